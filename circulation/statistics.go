package circulation

// LoanStatistics is an aggregate view over the full loan history,
// intended for operational dashboards. Overdue is computed with the
// classifier rule at query time, never from the stored enum.
type LoanStatistics struct {
	TotalLoans        int
	ActiveLoans       int
	ReturnedLoans     int
	OverdueLoans      int
	AvgBorrowDuration float64 // in days, over returned loans; 0 when none
}

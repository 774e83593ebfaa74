package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/mediatheque/circulation-go/circulation"
)

// ListLoansForUser returns one page of a user's loans, newest first. The
// query's own user scope, if any, is overridden by userID.
func (cs CirculationStore) ListLoansForUser(
	ctx context.Context,
	userID uuid.UUID,
	query circulation.LoanQuery,
) (circulation.LoanPage, error) {

	builder := circulation.BuildLoanQuery().
		ForUser(userID).
		Paged(query.Page(), query.Limit())

	if status, ok := query.Status(); ok {
		builder = builder.WithStatus(status)
	}

	if bookID, ok := query.BookID(); ok {
		builder = builder.ForBook(bookID)
	}

	return cs.ListAllLoans(ctx, builder.Finalize())
}

// ListAllLoans returns one page of loans matching the query, newest first,
// together with the total count and the classifier output for each loan.
func (cs CirculationStore) ListAllLoans(ctx context.Context, query circulation.LoanQuery) (circulation.LoanPage, error) {
	now := cs.clock.Now()

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.loansTableName).
		Select(loanColumns()...).
		Where(cs.whereFromLoanQuery(query, now)...).
		Order(goqu.I(colBorrowedAt).Desc()).
		Limit(uint(query.Limit())).
		Offset(uint(query.Offset()))

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return circulation.LoanPage{}, cs.buildQueryError(toSQLErr)
	}

	loans, queryErr := cs.queryLoans(ctx, cs.db, sqlQuery)
	if queryErr != nil {
		return circulation.LoanPage{}, queryErr
	}

	total, countErr := cs.countLoans(ctx, query, now)
	if countErr != nil {
		return circulation.LoanPage{}, countErr
	}

	effectiveStatuses := make([]circulation.LoanStatus, len(loans))
	for i, loan := range loans {
		effectiveStatuses[i] = loan.EffectiveStatus(now)
	}

	return circulation.LoanPage{
		Loans:             loans,
		EffectiveStatuses: effectiveStatuses,
		Pagination:        circulation.BuildPagination(query.Page(), query.Limit(), total),
	}, nil
}

// GetOverdueLoans returns every loan the classifier currently yields overdue
// for, most overdue first.
func (cs CirculationStore) GetOverdueLoans(ctx context.Context) ([]circulation.Loan, error) {
	now := cs.clock.Now()

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.loansTableName).
		Select(loanColumns()...).
		Where(
			goqu.C(colStatus).Eq(string(circulation.StatusActive)),
			goqu.C(colDueDate).Lt(now),
		).
		Order(goqu.I(colDueDate).Asc())

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return nil, cs.buildQueryError(toSQLErr)
	}

	return cs.queryLoans(ctx, cs.db, sqlQuery)
}

// GetDueSoonLoans returns active loans falling due within the given number of
// days from now, soonest first.
func (cs CirculationStore) GetDueSoonLoans(ctx context.Context, days int) ([]circulation.Loan, error) {
	now := cs.clock.Now()

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.loansTableName).
		Select(loanColumns()...).
		Where(
			goqu.C(colStatus).Eq(string(circulation.StatusActive)),
			goqu.C(colDueDate).Gt(now),
			goqu.C(colDueDate).Lte(now.Add(time.Duration(days)*24*time.Hour)),
		).
		Order(goqu.I(colDueDate).Asc())

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return nil, cs.buildQueryError(toSQLErr)
	}

	return cs.queryLoans(ctx, cs.db, sqlQuery)
}

// LoansDueOn returns active loans whose due date falls on the calendar day of
// day (UTC). The reminder pass uses it with tomorrow's date.
func (cs CirculationStore) LoansDueOn(ctx context.Context, day time.Time) ([]circulation.Loan, error) {
	dayStart := circulation.StartOfDay(day)
	dayEnd := dayStart.Add(24 * time.Hour)

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.loansTableName).
		Select(loanColumns()...).
		Where(
			goqu.C(colStatus).Eq(string(circulation.StatusActive)),
			goqu.C(colDueDate).Gte(dayStart),
			goqu.C(colDueDate).Lt(dayEnd),
		).
		Order(goqu.I(colDueDate).Asc())

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return nil, cs.buildQueryError(toSQLErr)
	}

	return cs.queryLoans(ctx, cs.db, sqlQuery)
}

// BookLoanHistory returns one page of a book's full borrowing history, the
// permanent audit trail, newest first.
func (cs CirculationStore) BookLoanHistory(
	ctx context.Context,
	bookID uuid.UUID,
	page int,
	limit int,
) (circulation.LoanPage, error) {

	query := circulation.BuildLoanQuery().
		ForBook(bookID).
		Paged(page, limit).
		Finalize()

	return cs.ListAllLoans(ctx, query)
}

// LoanStatistics aggregates counts over the full loan history plus the
// average borrow duration in days over returned loans.
func (cs CirculationStore) LoanStatistics(ctx context.Context) (circulation.LoanStatistics, error) {
	now := cs.clock.Now()

	statusCount := fmt.Sprintf("COUNT(*) FILTER (WHERE %s = ?)", colStatus)
	overdueCount := fmt.Sprintf(
		"COUNT(*) FILTER (WHERE %s = ? AND %s < ?)", colStatus, colDueDate,
	)
	avgDuration := fmt.Sprintf(
		"AVG(EXTRACT(EPOCH FROM (%s - %s)) / 86400) FILTER (WHERE %s = ?)",
		colReturnedAt, colBorrowedAt, colStatus,
	)

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.loansTableName).
		Select(
			goqu.COUNT(goqu.Star()),
			goqu.L(statusCount, string(circulation.StatusActive)),
			goqu.L(statusCount, string(circulation.StatusReturned)),
			goqu.L(overdueCount, string(circulation.StatusActive), now),
			goqu.L(avgDuration, string(circulation.StatusReturned)),
		)

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return circulation.LoanStatistics{}, cs.buildQueryError(toSQLErr)
	}

	rows, duration, queryErr := cs.executeQuery(ctx, cs.db, sqlQuery)
	cs.logQueryWithDuration(ctx, sqlQuery, actionQuery, duration)

	if queryErr != nil {
		return circulation.LoanStatistics{}, queryErr
	}
	defer cs.closeRows(ctx, rows)

	if !rows.Next() {
		return circulation.LoanStatistics{}, nil
	}

	var stats circulation.LoanStatistics
	var avg sql.NullFloat64

	if scanErr := rows.Scan(&stats.TotalLoans, &stats.ActiveLoans, &stats.ReturnedLoans, &stats.OverdueLoans, &avg); scanErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, scanErr)
		return circulation.LoanStatistics{}, errors.Join(circulation.ErrScanningDBRowFailed, scanErr)
	}

	stats.AvgBorrowDuration = avg.Float64

	return stats, nil
}

func (cs CirculationStore) countLoans(ctx context.Context, query circulation.LoanQuery, now time.Time) (int, error) {
	countStmt := goqu.Dialect(dialectPostgres).
		From(cs.loansTableName).
		Select(goqu.COUNT(goqu.Star())).
		Where(cs.whereFromLoanQuery(query, now)...)

	sqlQuery, _, toSQLErr := countStmt.ToSQL()
	if toSQLErr != nil {
		return 0, cs.buildQueryError(toSQLErr)
	}

	rows, duration, queryErr := cs.executeQuery(ctx, cs.db, sqlQuery)
	cs.logQueryWithDuration(ctx, sqlQuery, actionQuery, duration)

	if queryErr != nil {
		return 0, queryErr
	}
	defer cs.closeRows(ctx, rows)

	if !rows.Next() {
		return 0, nil
	}

	var total int
	if scanErr := rows.Scan(&total); scanErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, scanErr)
		return 0, errors.Join(circulation.ErrScanningDBRowFailed, scanErr)
	}

	return total, nil
}

// whereFromLoanQuery translates a sanitized LoanQuery into SQL expressions.
// A status filter of overdue expands into the classifier rule (active and
// past due at query time) instead of matching the stored enum.
func (cs CirculationStore) whereFromLoanQuery(query circulation.LoanQuery, now time.Time) []goqu.Expression {
	expressions := make([]goqu.Expression, 0)

	if userID, ok := query.UserID(); ok {
		expressions = append(expressions, goqu.C(colUserID).Eq(userID.String()))
	}

	if bookID, ok := query.BookID(); ok {
		expressions = append(expressions, goqu.C(colBookID).Eq(bookID.String()))
	}

	if status, ok := query.Status(); ok {
		switch status {
		case circulation.StatusOverdue:
			expressions = append(expressions,
				goqu.C(colStatus).Eq(string(circulation.StatusActive)),
				goqu.C(colDueDate).Lt(now),
			)

		default:
			expressions = append(expressions, goqu.C(colStatus).Eq(string(status)))
		}
	}

	return expressions
}

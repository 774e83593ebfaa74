package circulation

import (
	"time"
)

const hoursPerDay = 24

// EffectiveLoanStatus is the single authoritative due-state rule, used
// both by storage engines when filtering and by the scheduler when
// deciding. A returned loan is returned; an active loan whose due date
// has passed is overdue; everything else is active.
func EffectiveLoanStatus(status LoanStatus, dueDate time.Time, now time.Time) LoanStatus {
	if status == StatusReturned {
		return StatusReturned
	}

	if dueDate.Before(now) {
		return StatusOverdue
	}

	return StatusActive
}

// EffectiveStatus applies EffectiveLoanStatus to a loan record.
func (l Loan) EffectiveStatus(now time.Time) LoanStatus {
	return EffectiveLoanStatus(l.Status, l.DueDate, now)
}

// DaysOverdue reports by how many whole calendar days the due date has
// been missed, never negative. A loan due yesterday is 1 day overdue
// regardless of the time of day on either side.
func DaysOverdue(dueDate time.Time, now time.Time) int {
	days := calendarDaysBetween(dueDate, now)
	if days < 0 {
		return 0
	}

	return days
}

// DaysUntilDue reports how many whole calendar days remain until the
// due date, never negative.
func DaysUntilDue(dueDate time.Time, now time.Time) int {
	days := calendarDaysBetween(now, dueDate)
	if days < 0 {
		return 0
	}

	return days
}

// calendarDaysBetween counts the calendar-day boundaries (UTC) crossed
// between from and until; negative when until lies before from.
func calendarDaysBetween(from time.Time, until time.Time) int {
	return int(civilDate(until).Sub(civilDate(from)).Hours() / hoursPerDay)
}

// civilDate truncates a timestamp to its UTC calendar date.
func civilDate(t time.Time) time.Time {
	year, month, day := t.UTC().Date()

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns midnight UTC of the calendar day of t.
func StartOfDay(t time.Time) time.Time {
	return civilDate(t)
}

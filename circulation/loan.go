package circulation

import (
	"time"

	"github.com/google/uuid"
)

// LoanStatus is the stored lifecycle state of a loan. Only "active" and
// "returned" are ever persisted; "overdue" is a derived view of an
// active loan (see EffectiveLoanStatus) and must never be written.
type LoanStatus string

const (
	StatusActive   LoanStatus = "active"
	StatusReturned LoanStatus = "returned"

	// StatusOverdue is derived, never stored.
	StatusOverdue LoanStatus = "overdue"
)

// DefaultLoanPeriod is the ceiling for how far in the future a due date
// may lie, at creation and at renewal alike.
const DefaultLoanPeriod = 30 * 24 * time.Hour

// DefaultRenewalLimit caps how often a single loan may be renewed.
const DefaultRenewalLimit = 2

// Loan is a single borrowing transaction linking one user to one book
// copy for a bounded period. Loans are never deleted; a returned loan
// stays as the permanent audit trail.
type Loan struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	BookID       uuid.UUID
	BorrowedAt   time.Time
	DueDate      time.Time
	ReturnedAt   *time.Time
	Status       LoanStatus
	RenewalCount int
	Notes        string
}

// IsActive reports whether the loan has not been returned yet.
func (l Loan) IsActive() bool {
	return l.Status == StatusActive
}

// CanRenew reports whether another renewal is permitted under the given
// renewal limit. Only the stored state is consulted; the due-date bounds
// of the renewal itself are validated separately.
func (l Loan) CanRenew(renewalLimit int) bool {
	return l.Status == StatusActive && l.RenewalCount < renewalLimit
}

// ValidateDueDate checks the borrowing-window rule shared by loan
// creation and renewal: the due date must lie strictly after now and at
// most loanPeriod in the future (inclusive upper bound).
func ValidateDueDate(now time.Time, dueDate time.Time, loanPeriod time.Duration) error {
	if !dueDate.After(now) {
		return ErrInvalidDueDate
	}

	if dueDate.After(now.Add(loanPeriod)) {
		return ErrInvalidDueDate
	}

	return nil
}

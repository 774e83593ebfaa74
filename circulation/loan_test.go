package circulation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mediatheque/circulation-go/circulation"
)

func Test_ValidateDueDate_WithinThirtyDays_Succeeds(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	dueDate := now.Add(14 * 24 * time.Hour)

	err := circulation.ValidateDueDate(now, dueDate, circulation.DefaultLoanPeriod)

	assert.NoError(t, err)
}

func Test_ValidateDueDate_ExactlyThirtyDaysOut_Succeeds(t *testing.T) {
	// setup: the upper bound is inclusive
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	dueDate := now.Add(circulation.DefaultLoanPeriod)

	// act
	err := circulation.ValidateDueDate(now, dueDate, circulation.DefaultLoanPeriod)

	// assert
	assert.NoError(t, err)
}

func Test_ValidateDueDate_BeyondThirtyDays_Fails(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	dueDate := now.Add(circulation.DefaultLoanPeriod + time.Second)

	err := circulation.ValidateDueDate(now, dueDate, circulation.DefaultLoanPeriod)

	assert.ErrorIs(t, err, circulation.ErrInvalidDueDate)
}

func Test_ValidateDueDate_ExactlyNow_Fails(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

	err := circulation.ValidateDueDate(now, now, circulation.DefaultLoanPeriod)

	assert.ErrorIs(t, err, circulation.ErrInvalidDueDate, "due date must lie strictly after now")
}

func Test_ValidateDueDate_InThePast_Fails(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	dueDate := now.Add(-time.Hour)

	err := circulation.ValidateDueDate(now, dueDate, circulation.DefaultLoanPeriod)

	assert.ErrorIs(t, err, circulation.ErrInvalidDueDate)
}

func Test_ValidateDueDate_HonorsCustomLoanPeriod(t *testing.T) {
	// setup: a shorter configured period tightens the window
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	loanPeriod := 7 * 24 * time.Hour

	// act + assert
	assert.NoError(t, circulation.ValidateDueDate(now, now.Add(loanPeriod), loanPeriod))
	assert.ErrorIs(t, circulation.ValidateDueDate(now, now.Add(loanPeriod+time.Minute), loanPeriod),
		circulation.ErrInvalidDueDate)
}

func Test_Loan_CanRenew_BelowLimit_IsAllowed(t *testing.T) {
	loan := circulation.Loan{Status: circulation.StatusActive, RenewalCount: 1}

	assert.True(t, loan.CanRenew(circulation.DefaultRenewalLimit))
}

func Test_Loan_CanRenew_AtLimit_IsRefused(t *testing.T) {
	loan := circulation.Loan{Status: circulation.StatusActive, RenewalCount: 2}

	assert.False(t, loan.CanRenew(circulation.DefaultRenewalLimit))
}

func Test_Loan_CanRenew_ReturnedLoan_IsRefused(t *testing.T) {
	loan := circulation.Loan{Status: circulation.StatusReturned, RenewalCount: 0}

	assert.False(t, loan.CanRenew(circulation.DefaultRenewalLimit))
}

func Test_Loan_CanRenew_HonorsConfiguredLimit(t *testing.T) {
	loan := circulation.Loan{Status: circulation.StatusActive, RenewalCount: 2}

	assert.True(t, loan.CanRenew(5))
	assert.False(t, loan.CanRenew(2))
}

func Test_Loan_IsActive(t *testing.T) {
	assert.True(t, circulation.Loan{Status: circulation.StatusActive}.IsActive())
	assert.False(t, circulation.Loan{Status: circulation.StatusReturned}.IsActive())
}

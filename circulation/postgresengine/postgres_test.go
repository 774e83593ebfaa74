package postgresengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediatheque/circulation-go/circulation"
	"github.com/mediatheque/circulation-go/circulation/postgresengine"
	"github.com/mediatheque/circulation-go/testutil/postgresengine/pgtesthelpers"
)

var testStart = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func setupCirculationTest(t *testing.T, options ...postgresengine.Option) (
	context.Context, postgresengine.CirculationStore, *pgtesthelpers.FakeClock) {

	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	fakeClock := pgtesthelpers.NewFakeClock(testStart)
	options = append([]postgresengine.Option{postgresengine.WithClock(fakeClock)}, options...)

	wrapper := pgtesthelpers.CreateWrapperWithTestConfig(t, options...)
	t.Cleanup(wrapper.Close)

	pgtesthelpers.CreateSchema(t, wrapper)
	pgtesthelpers.CleanUp(t, wrapper)

	return ctx, wrapper.GetStore(), fakeClock
}

func Test_CreateLoan_When_CopyIsAvailable(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 3)
	userID := pgtesthelpers.GivenUniqueID(t)
	dueDate := fakeClock.Now().Add(14 * 24 * time.Hour)

	// act
	loan, err := store.CreateLoan(ctx, userID, book.ID, dueDate, "summer reading")

	// assert
	require.NoError(t, err, "error creating the loan")
	assert.Equal(t, userID, loan.UserID)
	assert.Equal(t, book.ID, loan.BookID)
	assert.Equal(t, circulation.StatusActive, loan.Status)
	assert.Equal(t, 0, loan.RenewalCount)

	bookAfter, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, bookAfter.AvailableQuantity, "creating a loan debits one copy")
	assert.Equal(t, 3, bookAfter.TotalQuantity)
}

func Test_CreateLoan_When_NoCopyIsAvailable(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 14*24*time.Hour)

	// act
	_, err := store.CreateLoan(ctx, pgtesthelpers.GivenUniqueID(t), book.ID,
		fakeClock.Now().Add(14*24*time.Hour), "")

	// assert
	assert.ErrorIs(t, err, circulation.ErrOutOfStock)

	bookAfter, getErr := store.GetBook(ctx, book.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 0, bookAfter.AvailableQuantity, "a refused loan must not touch the inventory")
}

func Test_CreateLoan_When_UserAlreadyHoldsThisBook(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 3)
	userID := pgtesthelpers.GivenUniqueID(t)
	dueDate := fakeClock.Now().Add(14 * 24 * time.Hour)
	_, err := store.CreateLoan(ctx, userID, book.ID, dueDate, "")
	require.NoError(t, err, "error in arranging test data")

	// act
	_, err = store.CreateLoan(ctx, userID, book.ID, dueDate, "")

	// assert
	assert.ErrorIs(t, err, circulation.ErrDuplicateActiveLoan)

	bookAfter, getErr := store.GetBook(ctx, book.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 2, bookAfter.AvailableQuantity, "only the first loan debits a copy")
}

func Test_CreateLoan_When_UserReturnedTheBookBefore(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange: a returned loan does not block borrowing the same book again
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	userID := pgtesthelpers.GivenUniqueID(t)
	dueDate := fakeClock.Now().Add(14 * 24 * time.Hour)
	loan, err := store.CreateLoan(ctx, userID, book.ID, dueDate, "")
	require.NoError(t, err, "error in arranging test data")
	_, err = store.ReturnLoan(ctx, loan.ID, "")
	require.NoError(t, err, "error in arranging test data")

	// act
	_, err = store.CreateLoan(ctx, userID, book.ID, dueDate, "")

	// assert
	assert.NoError(t, err)
}

func Test_CreateLoan_When_DueDateIsBeyondTheLoanPeriod(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)

	// act: 31 days out with the default 30 day period
	_, err := store.CreateLoan(ctx, pgtesthelpers.GivenUniqueID(t), book.ID,
		fakeClock.Now().Add(31*24*time.Hour), "")

	// assert
	assert.ErrorIs(t, err, circulation.ErrInvalidDueDate)
}

func Test_CreateLoan_When_DueDateIsExactlyThirtyDaysOut(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)

	// act
	_, err := store.CreateLoan(ctx, pgtesthelpers.GivenUniqueID(t), book.ID,
		fakeClock.Now().Add(30*24*time.Hour), "")

	// assert
	assert.NoError(t, err, "the loan period bound is inclusive")
}

func Test_CreateLoan_When_BookDoesNotExist(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// act
	_, err := store.CreateLoan(ctx, pgtesthelpers.GivenUniqueID(t), pgtesthelpers.GivenUniqueID(t),
		fakeClock.Now().Add(14*24*time.Hour), "")

	// assert
	assert.ErrorIs(t, err, circulation.ErrBookNotFound)
}

func Test_CreateLoan_When_TwoUsersRaceForTheLastCopy(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	dueDate := fakeClock.Now().Add(14 * 24 * time.Hour)

	// act: both transactions contend for the same book row lock
	var wg sync.WaitGroup
	outcomes := make([]error, 2)

	for i := range outcomes {
		wg.Add(1)

		go func(slot int) {
			defer wg.Done()
			_, outcomes[slot] = store.CreateLoan(ctx, pgtesthelpers.GivenUniqueID(t), book.ID, dueDate, "")
		}(i)
	}

	wg.Wait()

	// assert: exactly one wins, the loser sees out of stock
	winners := 0
	for _, outcome := range outcomes {
		if outcome == nil {
			winners++
		} else {
			assert.ErrorIs(t, outcome, circulation.ErrOutOfStock)
		}
	}

	assert.Equal(t, 1, winners, "the last copy must be lent exactly once")

	bookAfter, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, bookAfter.AvailableQuantity)
}

func Test_ReturnLoan_When_LoanIsActive(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 2)
	loan := pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 14*24*time.Hour)
	fakeClock.Advance(7 * 24 * time.Hour)

	// act
	returned, err := store.ReturnLoan(ctx, loan.ID, "slightly worn cover")

	// assert
	require.NoError(t, err, "error returning the loan")
	assert.Equal(t, circulation.StatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnedAt)
	assert.True(t, returned.ReturnedAt.Equal(fakeClock.Now()))
	assert.Equal(t, "slightly worn cover", returned.Notes)

	bookAfter, getErr := store.GetBook(ctx, book.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 2, bookAfter.AvailableQuantity, "returning credits the copy back")
}

func Test_ReturnLoan_When_LoanWasAlreadyReturned(t *testing.T) {
	// setup
	ctx, store, _ := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 2)
	loan := pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 14*24*time.Hour)
	_, err := store.ReturnLoan(ctx, loan.ID, "")
	require.NoError(t, err, "error in arranging test data")

	// act
	_, err = store.ReturnLoan(ctx, loan.ID, "")

	// assert
	assert.ErrorIs(t, err, circulation.ErrAlreadyReturned)

	bookAfter, getErr := store.GetBook(ctx, book.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 2, bookAfter.AvailableQuantity, "a double return must credit the copy only once")
}

func Test_ReturnLoan_When_LoanDoesNotExist(t *testing.T) {
	// setup
	ctx, store, _ := setupCirculationTest(t)

	// act
	_, err := store.ReturnLoan(ctx, pgtesthelpers.GivenUniqueID(t), "")

	// assert
	assert.ErrorIs(t, err, circulation.ErrLoanNotFound)
}

func Test_ReturnLoan_When_NoNewNotesSupplied_KeepsTheOriginalNotes(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	loan, err := store.CreateLoan(ctx, pgtesthelpers.GivenUniqueID(t), book.ID,
		fakeClock.Now().Add(14*24*time.Hour), "reserved for book club")
	require.NoError(t, err, "error in arranging test data")

	// act
	returned, err := store.ReturnLoan(ctx, loan.ID, "")

	// assert
	require.NoError(t, err)
	assert.Equal(t, "reserved for book club", returned.Notes)
}

func Test_ReturnLoan_When_LoanIsOverdue_StillSucceeds(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	loan := pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 7*24*time.Hour)
	fakeClock.Advance(10 * 24 * time.Hour)

	// act
	returned, err := store.ReturnLoan(ctx, loan.ID, "")

	// assert
	require.NoError(t, err, "overdue loans can be returned like any active loan")
	assert.Equal(t, circulation.StatusReturned, returned.Status)
}

func Test_RenewLoan_When_BelowTheRenewalLimit(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	loan := pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 14*24*time.Hour)
	newDueDate := fakeClock.Now().Add(28 * 24 * time.Hour)

	// act
	renewed, err := store.RenewLoan(ctx, loan.ID, newDueDate)

	// assert
	require.NoError(t, err, "error renewing the loan")
	assert.True(t, renewed.DueDate.Equal(newDueDate))
	assert.Equal(t, 1, renewed.RenewalCount)

	bookAfter, getErr := store.GetBook(ctx, book.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 0, bookAfter.AvailableQuantity, "renewal keeps the copy with the user")
}

func Test_RenewLoan_When_RenewalLimitIsReached(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange: use up both renewals of the default limit
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	loan := pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 7*24*time.Hour)
	_, err := store.RenewLoan(ctx, loan.ID, fakeClock.Now().Add(14*24*time.Hour))
	require.NoError(t, err, "error in arranging test data")
	_, err = store.RenewLoan(ctx, loan.ID, fakeClock.Now().Add(21*24*time.Hour))
	require.NoError(t, err, "error in arranging test data")

	// act
	_, err = store.RenewLoan(ctx, loan.ID, fakeClock.Now().Add(28*24*time.Hour))

	// assert
	assert.ErrorIs(t, err, circulation.ErrRenewalLimitReached)
}

func Test_RenewLoan_When_ConfiguredLimitIsHigher(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t, postgresengine.WithRenewalLimit(3))

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	loan := pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 7*24*time.Hour)
	_, err := store.RenewLoan(ctx, loan.ID, fakeClock.Now().Add(10*24*time.Hour))
	require.NoError(t, err, "error in arranging test data")
	_, err = store.RenewLoan(ctx, loan.ID, fakeClock.Now().Add(14*24*time.Hour))
	require.NoError(t, err, "error in arranging test data")

	// act
	renewed, err := store.RenewLoan(ctx, loan.ID, fakeClock.Now().Add(21*24*time.Hour))

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, renewed.RenewalCount)
}

func Test_RenewLoan_When_LoanWasReturned(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	loan := pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 14*24*time.Hour)
	_, err := store.ReturnLoan(ctx, loan.ID, "")
	require.NoError(t, err, "error in arranging test data")

	// act
	_, err = store.RenewLoan(ctx, loan.ID, fakeClock.Now().Add(14*24*time.Hour))

	// assert
	assert.ErrorIs(t, err, circulation.ErrRenewalLimitReached)
}

func Test_RenewLoan_When_NewDueDateIsBeyondTheLoanPeriod(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// arrange
	book := pgtesthelpers.GivenBookInInventory(t, ctx, store, 1)
	loan := pgtesthelpers.GivenActiveLoan(t, ctx, store, book.ID, 14*24*time.Hour)

	// act
	_, err := store.RenewLoan(ctx, loan.ID, fakeClock.Now().Add(45*24*time.Hour))

	// assert
	assert.ErrorIs(t, err, circulation.ErrInvalidDueDate)

	page, listErr := store.ListAllLoans(ctx, circulation.BuildLoanQuery().Finalize())
	require.NoError(t, listErr)
	require.Len(t, page.Loans, 1)
	assert.True(t, page.Loans[0].DueDate.Equal(loan.DueDate), "a refused renewal must not change the stored due date")
	assert.Equal(t, 0, page.Loans[0].RenewalCount)
}

func Test_RenewLoan_When_LoanDoesNotExist(t *testing.T) {
	// setup
	ctx, store, fakeClock := setupCirculationTest(t)

	// act
	_, err := store.RenewLoan(ctx, pgtesthelpers.GivenUniqueID(t), fakeClock.Now().Add(14*24*time.Hour))

	// assert
	assert.ErrorIs(t, err, circulation.ErrLoanNotFound)
}

func Test_NewCirculationStore_When_EmptyTableNameSupplied(t *testing.T) {
	// act
	err := pgtesthelpers.TryCreateStoreWithOptions(t, postgresengine.WithLoansTableName(""))

	// assert
	assert.ErrorIs(t, err, circulation.ErrEmptyTableNameSupplied)
}

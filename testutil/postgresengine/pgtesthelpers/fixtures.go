package pgtesthelpers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mediatheque/circulation-go/circulation"
	"github.com/mediatheque/circulation-go/circulation/postgresengine"
)

// FakeClock is a settable circulation.Clock for deterministic tests.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(now time.Time) {
	c.now = now
}

func GivenUniqueID(t testing.TB) uuid.UUID {
	id, err := uuid.NewV7()
	assert.NoError(t, err, "error in arranging test data")

	return id
}

// GivenBookInInventory registers a book with the given copy count.
func GivenBookInInventory(
	t testing.TB,
	ctx context.Context,
	store postgresengine.CirculationStore,
	copies int,
) circulation.Book {

	book, err := store.AddBook(ctx, "Learning Domain-Driven Design", "Vlad Khononov", copies)
	assert.NoError(t, err, "error in arranging test data")

	return book
}

// GivenActiveLoan creates a loan for a fresh user on the given book, due the
// given duration from the store clock's now.
func GivenActiveLoan(
	t testing.TB,
	ctx context.Context,
	store postgresengine.CirculationStore,
	bookID uuid.UUID,
	dueIn time.Duration,
) circulation.Loan {

	loan, err := store.CreateLoan(ctx, GivenUniqueID(t), bookID, store.Clock().Now().Add(dueIn), "")
	assert.NoError(t, err, "error in arranging test data")

	return loan
}

package circulation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var errAvailabilityOutOfBounds = errors.New("available quantity must satisfy 0 <= available <= total")

// Book carries the inventory-relevant state of a title: how many copies
// the library owns (TotalQuantity) and how many are currently loanable
// (AvailableQuantity). The invariant 0 <= AvailableQuantity <= TotalQuantity
// holds at all times; storage engines enforce it transactionally and
// BuildBook enforces it at the construction boundary.
type Book struct {
	ID                uuid.UUID
	Title             string
	Author            string
	TotalQuantity     int
	AvailableQuantity int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BuildBook validates the inventory invariant and returns a Book record.
func BuildBook(id uuid.UUID, title string, author string, total int, available int) (Book, error) {
	if total < 0 {
		return Book{}, ErrInvalidCapacity
	}

	if available < 0 || available > total {
		return Book{}, errAvailabilityOutOfBounds
	}

	return Book{
		ID:                id,
		Title:             title,
		Author:            author,
		TotalQuantity:     total,
		AvailableQuantity: available,
	}, nil
}

// HasAvailableCopy reports whether at least one copy can be reserved.
func (b Book) HasAvailableCopy() bool {
	return b.AvailableQuantity > 0
}

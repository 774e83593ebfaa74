package circulation

import (
	"github.com/google/uuid"
)

const (
	// DefaultPageLimit is applied when a caller supplies no page size.
	DefaultPageLimit = 20

	// MaxPageLimit is the hard ceiling for a single listing page.
	MaxPageLimit = 100
)

/***** LoanQuery *****/

// LoanQuery is an immutable, sanitized description of a loan listing:
// optional user/book scoping, an optional status filter, and clamped
// pagination. It is built with BuildLoanQuery and consumed by storage
// engines, which translate it into their own query language.
//
// A status filter of StatusOverdue is a computed filter (active AND past
// due at query time), never a match against the stored enum.
type LoanQuery struct {
	userID    uuid.UUID
	hasUserID bool
	bookID    uuid.UUID
	hasBookID bool
	status    LoanStatus
	hasStatus bool
	page      int
	limit     int
}

func (q LoanQuery) UserID() (uuid.UUID, bool) {
	return q.userID, q.hasUserID
}

func (q LoanQuery) BookID() (uuid.UUID, bool) {
	return q.bookID, q.hasBookID
}

func (q LoanQuery) Status() (LoanStatus, bool) {
	return q.status, q.hasStatus
}

func (q LoanQuery) Page() int {
	return q.page
}

func (q LoanQuery) Limit() int {
	return q.limit
}

func (q LoanQuery) Offset() int {
	return (q.page - 1) * q.limit
}

/***** LoanQueryBuilder *****/

// LoanQueryBuilder builds a LoanQuery, sanitizing the input:
//   - nil UUIDs are ignored
//   - unknown status values are ignored
//   - page is floored at 1, limit clamped to [1, MaxPageLimit]
type LoanQueryBuilder struct {
	query LoanQuery
}

// BuildLoanQuery starts a builder with default pagination.
func BuildLoanQuery() LoanQueryBuilder {
	return LoanQueryBuilder{
		query: LoanQuery{
			page:  1,
			limit: DefaultPageLimit,
		},
	}
}

// ForUser scopes the listing to one user's loans.
func (b LoanQueryBuilder) ForUser(userID uuid.UUID) LoanQueryBuilder {
	if userID != uuid.Nil {
		b.query.userID = userID
		b.query.hasUserID = true
	}

	return b
}

// ForBook scopes the listing to one book's loan history.
func (b LoanQueryBuilder) ForBook(bookID uuid.UUID) LoanQueryBuilder {
	if bookID != uuid.Nil {
		b.query.bookID = bookID
		b.query.hasBookID = true
	}

	return b
}

// WithStatus filters by stored status (active, returned) or by the
// computed overdue state.
func (b LoanQueryBuilder) WithStatus(status LoanStatus) LoanQueryBuilder {
	switch status {
	case StatusActive, StatusReturned, StatusOverdue:
		b.query.status = status
		b.query.hasStatus = true
	}

	return b
}

// Paged sets page (1-based) and page size, clamping both.
func (b LoanQueryBuilder) Paged(page int, limit int) LoanQueryBuilder {
	if page < 1 {
		page = 1
	}

	if limit < 1 {
		limit = DefaultPageLimit
	}

	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	b.query.page = page
	b.query.limit = limit

	return b
}

// Finalize returns the immutable LoanQuery.
func (b LoanQueryBuilder) Finalize() LoanQuery {
	return b.query
}

/***** Pagination *****/

// Pagination describes the window a LoanPage covers.
type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// LoanPage is one page of a loan listing together with its pagination
// metadata. EffectiveStatuses holds the classifier output for each loan
// in Loans, computed with the engine's clock at query time.
type LoanPage struct {
	Loans             []Loan
	EffectiveStatuses []LoanStatus
	Pagination        Pagination
}

// BuildPagination derives the page count from the total row count.
func BuildPagination(page int, limit int, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}

	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

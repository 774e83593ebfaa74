package circulation

import (
	"errors"
)

// Business-rule violations. All of them are expected, recoverable
// conditions that callers should match with errors.Is and translate to
// their own surface (HTTP status codes, CLI messages, ...).
var ErrOutOfStock = errors.New("no copies of this book are currently available")
var ErrDuplicateActiveLoan = errors.New("user already holds an active loan for this book")
var ErrInvalidDueDate = errors.New("due date is outside the allowed borrowing window")
var ErrBookNotFound = errors.New("book does not exist")
var ErrLoanNotFound = errors.New("loan does not exist")
var ErrAlreadyReturned = errors.New("loan has already been returned")
var ErrRenewalLimitReached = errors.New("loan can not be renewed, limit reached or loan not active")
var ErrInvalidCapacity = errors.New("total quantity must not be negative")

// ErrNotificationDeliveryFailed marks a per-item sink failure during a
// scheduler pass; it never aborts the pass as a whole.
var ErrNotificationDeliveryFailed = errors.New("notification delivery failed")

// Storage faults. Engines join the driver error onto one of these so
// that callers can distinguish a transactional/storage fault from a
// business-rule violation.
var ErrPersistenceFailure = errors.New("transactional storage operation failed")
var ErrBuildingQueryFailed = errors.New("building database query failed")
var ErrScanningDBRowFailed = errors.New("scanning database row failed")

// Configuration errors.
var ErrNilDatabaseConnection = errors.New("database connection must not be nil")
var ErrEmptyTableNameSupplied = errors.New("empty table name supplied")

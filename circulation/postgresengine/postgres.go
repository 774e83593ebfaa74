package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/mediatheque/circulation-go/circulation"
	"github.com/mediatheque/circulation-go/circulation/postgresengine/internal/adapters"
)

const (
	defaultBooksTableName         = "books"
	defaultLoansTableName         = "loans"
	defaultNotificationsTableName = "notification_records"

	dialectPostgres = "postgres"

	colID                = "id"
	colTitle             = "title"
	colAuthor            = "author"
	colTotalQuantity     = "total_quantity"
	colAvailableQuantity = "available_quantity"
	colCreatedAt         = "created_at"
	colUpdatedAt         = "updated_at"

	colUserID       = "user_id"
	colBookID       = "book_id"
	colBorrowedAt   = "borrowed_at"
	colDueDate      = "due_date"
	colReturnedAt   = "returned_at"
	colStatus       = "status"
	colRenewalCount = "renewal_count"
	colNotes        = "notes"

	colLoanID       = "loan_id"
	colKind         = "kind"
	colPayload      = "payload"
	colAcknowledged = "acknowledged"
	colExpiresAt    = "expires_at"

	logMsgSQLExecuted     = "executed sql for: "
	logMsgOperation       = "circulation operation: "
	logMsgLoanCreated     = "loan created"
	logMsgLoanReturned    = "loan returned"
	logMsgLoanRenewed     = "loan renewed"
	logMsgCapacityResized = "book capacity resized"
	logMsgCloseRowsFailed = "failed to close database rows"
	logMsgRollbackFailed  = "failed to roll back transaction"
	logMsgQueryFailed     = "database query execution failed"
	logMsgExecFailed      = "database execution failed"
	logMsgScanRowFailed   = "failed to scan database row"
	logMsgBuildSQLFailed  = "failed to build sql query"

	logAttrError       = "error"
	logAttrQuery       = "query"
	logAttrDurationMS  = "duration_ms"
	logAttrLoanID      = "loan_id"
	logAttrBookID      = "book_id"
	logAttrUserID      = "user_id"
	logAttrDueDate     = "due_date"
	logAttrLoanCount   = "loan_count"
	logAttrNewCapacity = "new_capacity"
)

type sqlQueryString = string

// dbRunner is satisfied by both the pooled adapter and an open transaction so
// that query helpers can run in either scope.
type dbRunner interface {
	Query(ctx context.Context, query string) (adapters.DBRows, error)
	Exec(ctx context.Context, query string) (adapters.DBResult, error)
}

// CirculationStore is the PostgreSQL implementation of the borrowing
// lifecycle: loan creation/return/renewal coordinated atomically with the
// inventory ledger, the loan listings, and the notification record log the
// scheduler builds on. It leverages a database adapter and supports
// customizable table names, clock, limits, and observability.
type CirculationStore struct {
	db                     adapters.DBAdapter
	booksTableName         string
	loansTableName         string
	notificationsTableName string
	clock                  circulation.Clock
	renewalLimit           int
	loanPeriod             time.Duration
	logger                 circulation.Logger
	contextualLogger       circulation.ContextualLogger
	metricsCollector       circulation.MetricsCollector
	tracingCollector       circulation.TracingCollector
}

// NewCirculationStoreFromPGXPool creates a new CirculationStore using a pgx Pool with optional configuration.
func NewCirculationStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (CirculationStore, error) {
	if db == nil {
		return CirculationStore{}, circulation.ErrNilDatabaseConnection
	}

	return newCirculationStore(adapters.NewPGXAdapter(db), options...)
}

// NewCirculationStoreFromSQLDB creates a new CirculationStore using a sql.DB with optional configuration.
func NewCirculationStoreFromSQLDB(db *sql.DB, options ...Option) (CirculationStore, error) {
	if db == nil {
		return CirculationStore{}, circulation.ErrNilDatabaseConnection
	}

	return newCirculationStore(adapters.NewSQLAdapter(db), options...)
}

// NewCirculationStoreFromSQLX creates a new CirculationStore using a sqlx.DB with optional configuration.
func NewCirculationStoreFromSQLX(db *sqlx.DB, options ...Option) (CirculationStore, error) {
	if db == nil {
		return CirculationStore{}, circulation.ErrNilDatabaseConnection
	}

	return newCirculationStore(adapters.NewSQLXAdapter(db), options...)
}

func newCirculationStore(db adapters.DBAdapter, options ...Option) (CirculationStore, error) {
	cs := CirculationStore{
		db:                     db,
		booksTableName:         defaultBooksTableName,
		loansTableName:         defaultLoansTableName,
		notificationsTableName: defaultNotificationsTableName,
		clock:                  circulation.SystemClock{},
		renewalLimit:           circulation.DefaultRenewalLimit,
		loanPeriod:             circulation.DefaultLoanPeriod,
	}

	for _, option := range options {
		if err := option(&cs); err != nil {
			return CirculationStore{}, err
		}
	}

	return cs, nil
}

// Clock exposes the store's time source so that collaborators (scheduler,
// tests) share one authoritative clock.
func (cs CirculationStore) Clock() circulation.Clock {
	return cs.clock
}

// RenewalLimit exposes the configured renewal cap.
func (cs CirculationStore) RenewalLimit() int {
	return cs.renewalLimit
}

// CreateLoan grants a loan as one atomic unit: it locks the book row, checks
// availability and the single-active-loan rule, inserts the loan, and debits
// the inventory. On any failure the whole transaction rolls back, so the
// inventory is never debited without a matching loan row.
//
// The due date must satisfy now < dueDate <= now + loanPeriod; violations fail
// with circulation.ErrInvalidDueDate before any database work.
func (cs CirculationStore) CreateLoan(
	ctx context.Context,
	userID uuid.UUID,
	bookID uuid.UUID,
	dueDate time.Time,
	notes string,
) (circulation.Loan, error) {

	now := cs.clock.Now()

	if err := circulation.ValidateDueDate(now, dueDate, cs.loanPeriod); err != nil {
		return circulation.Loan{}, err
	}

	loanID, idErr := uuid.NewV7()
	if idErr != nil {
		return circulation.Loan{}, errors.Join(circulation.ErrPersistenceFailure, idErr)
	}

	loan := circulation.Loan{
		ID:         loanID,
		UserID:     userID,
		BookID:     bookID,
		BorrowedAt: now,
		DueDate:    dueDate,
		Status:     circulation.StatusActive,
		Notes:      notes,
	}

	ctx, span := cs.startSpan(ctx, spanCreateLoan, map[string]string{
		spanAttrBookID: bookID.String(),
		spanAttrUserID: userID.String(),
	})
	start := time.Now()

	txErr := cs.withTransaction(ctx, func(tx adapters.DBTx) error {
		book, lockErr := cs.lockBookRow(ctx, tx, bookID)
		if lockErr != nil {
			return lockErr
		}

		if !book.HasAvailableCopy() {
			return circulation.ErrOutOfStock
		}

		hasActive, activeErr := cs.hasActiveLoan(ctx, tx, userID, bookID)
		if activeErr != nil {
			return activeErr
		}

		if hasActive {
			return circulation.ErrDuplicateActiveLoan
		}

		if insertErr := cs.insertLoanRow(ctx, tx, loan); insertErr != nil {
			return insertErr
		}

		return cs.reserveCopy(ctx, tx, bookID, now)
	})

	cs.finishOperation(ctx, span, opCreateLoan, time.Since(start), txErr)

	if txErr != nil {
		return circulation.Loan{}, txErr
	}

	cs.logOperation(ctx, logMsgLoanCreated,
		logAttrLoanID, loan.ID.String(),
		logAttrBookID, bookID.String(),
		logAttrUserID, userID.String(),
		logAttrDueDate, dueDate.Format(time.RFC3339))

	return loan, nil
}

// ReturnLoan closes a loan and credits the inventory in the same atomic unit.
// It fails with circulation.ErrLoanNotFound when the loan does not exist and
// with circulation.ErrAlreadyReturned when it is no longer active; the
// inventory is credited exactly once per loan.
func (cs CirculationStore) ReturnLoan(
	ctx context.Context,
	loanID uuid.UUID,
	notes string,
) (circulation.Loan, error) {

	now := cs.clock.Now()
	var returned circulation.Loan

	ctx, span := cs.startSpan(ctx, spanReturnLoan, map[string]string{
		spanAttrLoanID: loanID.String(),
	})
	start := time.Now()

	txErr := cs.withTransaction(ctx, func(tx adapters.DBTx) error {
		loan, lockErr := cs.lockLoanRow(ctx, tx, loanID)
		if lockErr != nil {
			return lockErr
		}

		if !loan.IsActive() {
			return circulation.ErrAlreadyReturned
		}

		if notes == "" {
			notes = loan.Notes
		}

		if updateErr := cs.markLoanReturned(ctx, tx, loanID, now, notes); updateErr != nil {
			return updateErr
		}

		loan.Status = circulation.StatusReturned
		loan.ReturnedAt = &now
		loan.Notes = notes
		returned = loan

		return cs.releaseCopy(ctx, tx, loan.BookID, now)
	})

	cs.finishOperation(ctx, span, opReturnLoan, time.Since(start), txErr)

	if txErr != nil {
		return circulation.Loan{}, txErr
	}

	cs.logOperation(ctx, logMsgLoanReturned,
		logAttrLoanID, loanID.String(),
		logAttrBookID, returned.BookID.String())

	return returned, nil
}

// RenewLoan extends an active loan's due date and increments its renewal
// counter. Renewal is only permitted while the loan is active and below the
// configured renewal limit; the new due date is bounded by the same window as
// loan creation. Inventory is untouched, the copy stays with the user.
func (cs CirculationStore) RenewLoan(
	ctx context.Context,
	loanID uuid.UUID,
	newDueDate time.Time,
) (circulation.Loan, error) {

	now := cs.clock.Now()

	if err := circulation.ValidateDueDate(now, newDueDate, cs.loanPeriod); err != nil {
		return circulation.Loan{}, err
	}

	var renewed circulation.Loan

	ctx, span := cs.startSpan(ctx, spanRenewLoan, map[string]string{
		spanAttrLoanID: loanID.String(),
	})
	start := time.Now()

	txErr := cs.withTransaction(ctx, func(tx adapters.DBTx) error {
		loan, lockErr := cs.lockLoanRow(ctx, tx, loanID)
		if lockErr != nil {
			return lockErr
		}

		if !loan.CanRenew(cs.renewalLimit) {
			return circulation.ErrRenewalLimitReached
		}

		if updateErr := cs.extendLoanRow(ctx, tx, loanID, newDueDate); updateErr != nil {
			return updateErr
		}

		loan.DueDate = newDueDate
		loan.RenewalCount++
		renewed = loan

		return nil
	})

	cs.finishOperation(ctx, span, opRenewLoan, time.Since(start), txErr)

	if txErr != nil {
		return circulation.Loan{}, txErr
	}

	cs.logOperation(ctx, logMsgLoanRenewed,
		logAttrLoanID, loanID.String(),
		logAttrDueDate, newDueDate.Format(time.RFC3339))

	return renewed, nil
}

// withTransaction runs fn inside a transaction, guaranteeing commit on
// success, rollback on error, and release on all paths.
func (cs CirculationStore) withTransaction(ctx context.Context, fn func(tx adapters.DBTx) error) error {
	tx, beginErr := cs.db.BeginTx(ctx)
	if beginErr != nil {
		return errors.Join(circulation.ErrPersistenceFailure, beginErr)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			cs.logWarn(ctx, logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}

		return fnErr
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			cs.logWarn(ctx, logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}

		return errors.Join(circulation.ErrPersistenceFailure, commitErr)
	}

	return nil
}

// lockLoanRow reads a loan under a row lock so that concurrent return/renew
// calls on the same loan are serialized.
func (cs CirculationStore) lockLoanRow(
	ctx context.Context,
	tx adapters.DBTx,
	loanID uuid.UUID,
) (circulation.Loan, error) {

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.loansTableName).
		Select(loanColumns()...).
		Where(goqu.Ex{colID: loanID.String()}).
		ForUpdate(exp.Wait)

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return circulation.Loan{}, cs.buildQueryError(toSQLErr)
	}

	loans, queryErr := cs.queryLoans(ctx, tx, sqlQuery)
	if queryErr != nil {
		return circulation.Loan{}, queryErr
	}

	if len(loans) == 0 {
		return circulation.Loan{}, circulation.ErrLoanNotFound
	}

	return loans[0], nil
}

// hasActiveLoan checks the single-active-loan-per-user-per-book rule.
func (cs CirculationStore) hasActiveLoan(
	ctx context.Context,
	tx adapters.DBTx,
	userID uuid.UUID,
	bookID uuid.UUID,
) (bool, error) {

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.loansTableName).
		Select(colID).
		Where(goqu.Ex{
			colUserID: userID.String(),
			colBookID: bookID.String(),
			colStatus: string(circulation.StatusActive),
		})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return false, cs.buildQueryError(toSQLErr)
	}

	rows, duration, queryErr := cs.executeQuery(ctx, tx, sqlQuery)
	cs.logQueryWithDuration(ctx, sqlQuery, actionQuery, duration)

	if queryErr != nil {
		return false, queryErr
	}
	defer cs.closeRows(ctx, rows)

	return rows.Next(), nil
}

func (cs CirculationStore) insertLoanRow(ctx context.Context, tx adapters.DBTx, loan circulation.Loan) error {
	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(cs.loansTableName).
		Rows(goqu.Record{
			colID:           loan.ID.String(),
			colUserID:       loan.UserID.String(),
			colBookID:       loan.BookID.String(),
			colBorrowedAt:   loan.BorrowedAt,
			colDueDate:      loan.DueDate,
			colStatus:       string(loan.Status),
			colRenewalCount: loan.RenewalCount,
			colNotes:        loan.Notes,
		})

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return cs.buildQueryError(toSQLErr)
	}

	_, execErr := cs.executeStatement(ctx, tx, sqlQuery, actionInsert)

	return execErr
}

func (cs CirculationStore) markLoanReturned(
	ctx context.Context,
	tx adapters.DBTx,
	loanID uuid.UUID,
	returnedAt time.Time,
	notes string,
) error {

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.loansTableName).
		Set(goqu.Record{
			colStatus:     string(circulation.StatusReturned),
			colReturnedAt: returnedAt,
			colNotes:      notes,
		}).
		Where(goqu.Ex{colID: loanID.String()})

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return cs.buildQueryError(toSQLErr)
	}

	_, execErr := cs.executeStatement(ctx, tx, sqlQuery, actionUpdate)

	return execErr
}

func (cs CirculationStore) extendLoanRow(
	ctx context.Context,
	tx adapters.DBTx,
	loanID uuid.UUID,
	newDueDate time.Time,
) error {

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.loansTableName).
		Set(goqu.Record{
			colDueDate:      newDueDate,
			colRenewalCount: goqu.L(colRenewalCount + " + 1"),
		}).
		Where(goqu.Ex{colID: loanID.String()})

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return cs.buildQueryError(toSQLErr)
	}

	_, execErr := cs.executeStatement(ctx, tx, sqlQuery, actionUpdate)

	return execErr
}

/***** shared query plumbing *****/

func loanColumns() []any {
	return []any{colID, colUserID, colBookID, colBorrowedAt, colDueDate, colReturnedAt, colStatus, colRenewalCount, colNotes}
}

// queryLoans runs a loan select and scans the result rows into records.
func (cs CirculationStore) queryLoans(ctx context.Context, runner dbRunner, sqlQuery string) ([]circulation.Loan, error) {
	rows, duration, queryErr := cs.executeQuery(ctx, runner, sqlQuery)
	cs.logQueryWithDuration(ctx, sqlQuery, actionQuery, duration)

	if queryErr != nil {
		return nil, queryErr
	}
	defer cs.closeRows(ctx, rows)

	loans := make([]circulation.Loan, 0)

	for rows.Next() {
		loan, scanErr := cs.scanLoanRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		loans = append(loans, loan)
	}

	return loans, nil
}

func (cs CirculationStore) scanLoanRow(rows adapters.DBRows) (circulation.Loan, error) {
	var (
		idRaw        string
		userIDRaw    string
		bookIDRaw    string
		borrowedAt   time.Time
		dueDate      time.Time
		returnedAt   sql.NullTime
		status       string
		renewalCount int
		notes        sql.NullString
	)

	scanErr := rows.Scan(&idRaw, &userIDRaw, &bookIDRaw, &borrowedAt, &dueDate, &returnedAt, &status, &renewalCount, &notes)
	if scanErr != nil {
		cs.logError(context.Background(), logMsgScanRowFailed, scanErr)
		return circulation.Loan{}, errors.Join(circulation.ErrScanningDBRowFailed, scanErr)
	}

	id, idErr := uuid.Parse(idRaw)
	if idErr != nil {
		return circulation.Loan{}, errors.Join(circulation.ErrScanningDBRowFailed, idErr)
	}

	userID, userIDErr := uuid.Parse(userIDRaw)
	if userIDErr != nil {
		return circulation.Loan{}, errors.Join(circulation.ErrScanningDBRowFailed, userIDErr)
	}

	bookID, bookIDErr := uuid.Parse(bookIDRaw)
	if bookIDErr != nil {
		return circulation.Loan{}, errors.Join(circulation.ErrScanningDBRowFailed, bookIDErr)
	}

	loan := circulation.Loan{
		ID:           id,
		UserID:       userID,
		BookID:       bookID,
		BorrowedAt:   borrowedAt,
		DueDate:      dueDate,
		Status:       circulation.LoanStatus(status),
		RenewalCount: renewalCount,
		Notes:        notes.String,
	}

	if returnedAt.Valid {
		t := returnedAt.Time
		loan.ReturnedAt = &t
	}

	return loan, nil
}

// executeQuery executes a SQL query and returns rows with timing information.
func (cs CirculationStore) executeQuery(ctx context.Context, runner dbRunner, sqlQuery string) (
	adapters.DBRows,
	time.Duration,
	error,
) {

	start := time.Now()
	rows, queryErr := runner.Query(ctx, sqlQuery)
	duration := time.Since(start)

	if queryErr != nil {
		cs.logError(ctx, logMsgQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return nil, duration, errors.Join(circulation.ErrPersistenceFailure, queryErr)
	}

	return rows, duration, nil
}

// executeStatement executes a SQL statement and returns the affected row count.
func (cs CirculationStore) executeStatement(
	ctx context.Context,
	runner dbRunner,
	sqlQuery string,
	action string,
) (int64, error) {

	start := time.Now()
	result, execErr := runner.Exec(ctx, sqlQuery)
	duration := time.Since(start)
	cs.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if execErr != nil {
		cs.logError(ctx, logMsgExecFailed, execErr, logAttrQuery, sqlQuery)
		return 0, errors.Join(circulation.ErrPersistenceFailure, execErr)
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		return 0, errors.Join(circulation.ErrPersistenceFailure, rowsAffectedErr)
	}

	return rowsAffected, nil
}

// closeRows safely closes database rows and logs any errors.
func (cs CirculationStore) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		cs.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

func (cs CirculationStore) buildQueryError(err error) error {
	cs.logError(context.Background(), logMsgBuildSQLFailed, err)
	return errors.Join(circulation.ErrBuildingQueryFailed, err)
}

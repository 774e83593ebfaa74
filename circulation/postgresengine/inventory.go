package postgresengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/mediatheque/circulation-go/circulation"
	"github.com/mediatheque/circulation-go/circulation/postgresengine/internal/adapters"
)

// AddBook registers a title with its copy count; all copies start available.
func (cs CirculationStore) AddBook(
	ctx context.Context,
	title string,
	author string,
	totalQuantity int,
) (circulation.Book, error) {

	bookID, idErr := uuid.NewV7()
	if idErr != nil {
		return circulation.Book{}, errors.Join(circulation.ErrPersistenceFailure, idErr)
	}

	book, buildErr := circulation.BuildBook(bookID, title, author, totalQuantity, totalQuantity)
	if buildErr != nil {
		return circulation.Book{}, buildErr
	}

	now := cs.clock.Now()
	book.CreatedAt = now
	book.UpdatedAt = now

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(cs.booksTableName).
		Rows(goqu.Record{
			colID:                book.ID.String(),
			colTitle:             book.Title,
			colAuthor:            book.Author,
			colTotalQuantity:     book.TotalQuantity,
			colAvailableQuantity: book.AvailableQuantity,
			colCreatedAt:         now,
			colUpdatedAt:         now,
		})

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return circulation.Book{}, cs.buildQueryError(toSQLErr)
	}

	if _, execErr := cs.executeStatement(ctx, cs.db, sqlQuery, actionInsert); execErr != nil {
		return circulation.Book{}, execErr
	}

	return book, nil
}

// GetBook reads a book's current inventory state.
func (cs CirculationStore) GetBook(ctx context.Context, bookID uuid.UUID) (circulation.Book, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.booksTableName).
		Select(colID, colTitle, colAuthor, colTotalQuantity, colAvailableQuantity).
		Where(goqu.Ex{colID: bookID.String()})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return circulation.Book{}, cs.buildQueryError(toSQLErr)
	}

	return cs.queryBookRow(ctx, cs.db, sqlQuery)
}

// ResizeCapacity adjusts a book's total quantity and shifts the available
// quantity by the same signed delta, floored at zero, so that the two
// counters never desynchronize. Runs under the book row lock.
func (cs CirculationStore) ResizeCapacity(ctx context.Context, bookID uuid.UUID, newTotal int) (circulation.Book, error) {
	if newTotal < 0 {
		return circulation.Book{}, circulation.ErrInvalidCapacity
	}

	now := cs.clock.Now()
	var resized circulation.Book

	ctx, span := cs.startSpan(ctx, spanResizeCapacity, map[string]string{
		spanAttrBookID: bookID.String(),
	})
	start := time.Now()

	txErr := cs.withTransaction(ctx, func(tx adapters.DBTx) error {
		book, lockErr := cs.lockBookRow(ctx, tx, bookID)
		if lockErr != nil {
			return lockErr
		}

		delta := newTotal - book.TotalQuantity

		newAvailable := book.AvailableQuantity + delta
		if newAvailable < 0 {
			newAvailable = 0
		}
		if newAvailable > newTotal {
			newAvailable = newTotal
		}

		updateStmt := goqu.Dialect(dialectPostgres).
			Update(cs.booksTableName).
			Set(goqu.Record{
				colTotalQuantity:     newTotal,
				colAvailableQuantity: newAvailable,
				colUpdatedAt:         now,
			}).
			Where(goqu.Ex{colID: bookID.String()})

		sqlQuery, _, toSQLErr := updateStmt.ToSQL()
		if toSQLErr != nil {
			return cs.buildQueryError(toSQLErr)
		}

		if _, execErr := cs.executeStatement(ctx, tx, sqlQuery, actionUpdate); execErr != nil {
			return execErr
		}

		book.TotalQuantity = newTotal
		book.AvailableQuantity = newAvailable
		resized = book

		return nil
	})

	cs.finishOperation(ctx, span, opResizeCapacity, time.Since(start), txErr)

	if txErr != nil {
		return circulation.Book{}, txErr
	}

	cs.logOperation(ctx, logMsgCapacityResized,
		logAttrBookID, bookID.String(),
		logAttrNewCapacity, newTotal)

	return resized, nil
}

// lockBookRow reads a book under SELECT ... FOR UPDATE. Every inventory
// mutation goes through this lock, so two concurrent reservations on the last
// copy can never both succeed.
func (cs CirculationStore) lockBookRow(
	ctx context.Context,
	tx adapters.DBTx,
	bookID uuid.UUID,
) (circulation.Book, error) {

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.booksTableName).
		Select(colID, colTitle, colAuthor, colTotalQuantity, colAvailableQuantity).
		Where(goqu.Ex{colID: bookID.String()}).
		ForUpdate(exp.Wait)

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return circulation.Book{}, cs.buildQueryError(toSQLErr)
	}

	return cs.queryBookRow(ctx, tx, sqlQuery)
}

// reserveCopy debits one available copy. The conditional update is the last
// line of defense: it only matches while a copy is left, even if a caller
// skipped the row lock.
func (cs CirculationStore) reserveCopy(ctx context.Context, tx adapters.DBTx, bookID uuid.UUID, now time.Time) error {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.booksTableName).
		Set(goqu.Record{
			colAvailableQuantity: goqu.L(colAvailableQuantity + " - 1"),
			colUpdatedAt:         now,
		}).
		Where(goqu.Ex{colID: bookID.String()}, goqu.C(colAvailableQuantity).Gt(0))

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return cs.buildQueryError(toSQLErr)
	}

	rowsAffected, execErr := cs.executeStatement(ctx, tx, sqlQuery, actionUpdate)
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		return circulation.ErrOutOfStock
	}

	return nil
}

// releaseCopy credits one copy back, clamped so availability never exceeds
// the total capacity.
func (cs CirculationStore) releaseCopy(ctx context.Context, tx adapters.DBTx, bookID uuid.UUID, now time.Time) error {
	clampedIncrement := fmt.Sprintf("LEAST(%s + 1, %s)", colAvailableQuantity, colTotalQuantity)

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.booksTableName).
		Set(goqu.Record{
			colAvailableQuantity: goqu.L(clampedIncrement),
			colUpdatedAt:         now,
		}).
		Where(goqu.Ex{colID: bookID.String()})

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return cs.buildQueryError(toSQLErr)
	}

	rowsAffected, execErr := cs.executeStatement(ctx, tx, sqlQuery, actionUpdate)
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		return circulation.ErrBookNotFound
	}

	return nil
}

func (cs CirculationStore) queryBookRow(ctx context.Context, runner dbRunner, sqlQuery string) (circulation.Book, error) {
	rows, duration, queryErr := cs.executeQuery(ctx, runner, sqlQuery)
	cs.logQueryWithDuration(ctx, sqlQuery, actionQuery, duration)

	if queryErr != nil {
		return circulation.Book{}, queryErr
	}
	defer cs.closeRows(ctx, rows)

	if !rows.Next() {
		return circulation.Book{}, circulation.ErrBookNotFound
	}

	var (
		idRaw     string
		title     string
		author    string
		total     int
		available int
	)

	if scanErr := rows.Scan(&idRaw, &title, &author, &total, &available); scanErr != nil {
		cs.logError(ctx, logMsgScanRowFailed, scanErr)
		return circulation.Book{}, errors.Join(circulation.ErrScanningDBRowFailed, scanErr)
	}

	id, idErr := uuid.Parse(idRaw)
	if idErr != nil {
		return circulation.Book{}, errors.Join(circulation.ErrScanningDBRowFailed, idErr)
	}

	return circulation.Book{
		ID:                id,
		Title:             title,
		Author:            author,
		TotalQuantity:     total,
		AvailableQuantity: available,
	}, nil
}

package postgresengine

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/mediatheque/circulation-go/circulation"
)

// WasNotifiedOn reports whether a notification of the given kind was already
// recorded for the (user, book) pair on the calendar day of day (UTC). This is
// the scheduler's once-per-loan-per-condition-per-day idempotence check.
func (cs CirculationStore) WasNotifiedOn(
	ctx context.Context,
	userID uuid.UUID,
	bookID uuid.UUID,
	kind circulation.NotificationKind,
	day time.Time,
) (bool, error) {

	dayStart := circulation.StartOfDay(day)
	dayEnd := dayStart.Add(24 * time.Hour)

	selectStmt := goqu.Dialect(dialectPostgres).
		From(cs.notificationsTableName).
		Select(colID).
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colBookID).Eq(bookID.String()),
			goqu.C(colKind).Eq(string(kind)),
			goqu.C(colCreatedAt).Gte(dayStart),
			goqu.C(colCreatedAt).Lt(dayEnd),
		)

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return false, cs.buildQueryError(toSQLErr)
	}

	rows, duration, queryErr := cs.executeQuery(ctx, cs.db, sqlQuery)
	cs.logQueryWithDuration(ctx, sqlQuery, actionQuery, duration)

	if queryErr != nil {
		return false, queryErr
	}
	defer cs.closeRows(ctx, rows)

	return rows.Next(), nil
}

// RecordNotification persists an in-app notification record. The scheduler
// only calls this after the sink reported successful delivery.
func (cs CirculationStore) RecordNotification(ctx context.Context, record circulation.NotificationRecord) error {
	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(cs.notificationsTableName).
		Rows(goqu.Record{
			colID:           record.ID.String(),
			colUserID:       record.UserID.String(),
			colLoanID:       record.LoanID.String(),
			colBookID:       record.BookID.String(),
			colKind:         string(record.Kind),
			colPayload:      string(record.Payload),
			colAcknowledged: record.Acknowledged,
			colCreatedAt:    record.CreatedAt,
			colExpiresAt:    record.ExpiresAt,
		})

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return cs.buildQueryError(toSQLErr)
	}

	_, execErr := cs.executeStatement(ctx, cs.db, sqlQuery, actionInsert)

	return execErr
}

// AcknowledgeNotification marks one of a user's notification records as read.
func (cs CirculationStore) AcknowledgeNotification(ctx context.Context, recordID uuid.UUID, userID uuid.UUID) (bool, error) {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(cs.notificationsTableName).
		Set(goqu.Record{colAcknowledged: true}).
		Where(goqu.Ex{
			colID:     recordID.String(),
			colUserID: userID.String(),
		})

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return false, cs.buildQueryError(toSQLErr)
	}

	rowsAffected, execErr := cs.executeStatement(ctx, cs.db, sqlQuery, actionUpdate)
	if execErr != nil {
		return false, execErr
	}

	return rowsAffected > 0, nil
}

// PurgeAcknowledgedBefore deletes records that are both acknowledged and older
// than cutoff. The weekly cleanup pass drives this with a retention window.
func (cs CirculationStore) PurgeAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(cs.notificationsTableName).
		Where(
			goqu.C(colAcknowledged).IsTrue(),
			goqu.C(colCreatedAt).Lt(cutoff),
		)

	sqlQuery, _, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		return 0, cs.buildQueryError(toSQLErr)
	}

	return cs.executeStatement(ctx, cs.db, sqlQuery, actionDelete)
}

// PurgeExpired deletes records whose expiry has passed, read or not.
func (cs CirculationStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(cs.notificationsTableName).
		Where(goqu.C(colExpiresAt).Lt(now))

	sqlQuery, _, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		return 0, cs.buildQueryError(toSQLErr)
	}

	return cs.executeStatement(ctx, cs.db, sqlQuery, actionDelete)
}

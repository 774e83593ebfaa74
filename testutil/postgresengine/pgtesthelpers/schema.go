package pgtesthelpers

import (
	"testing"
)

// CreateSchema creates the circulation tables when they do not exist yet, so
// the integration test suite can run against an empty database.
func CreateSchema(t testing.TB, wrapper Wrapper) {
	Exec(t, wrapper, `
		CREATE TABLE IF NOT EXISTS books (
			id                 uuid PRIMARY KEY,
			title              text NOT NULL,
			author             text NOT NULL,
			total_quantity     integer NOT NULL,
			available_quantity integer NOT NULL,
			created_at         timestamptz NOT NULL,
			updated_at         timestamptz NOT NULL,
			CHECK (available_quantity BETWEEN 0 AND total_quantity)
		)`)

	Exec(t, wrapper, `
		CREATE TABLE IF NOT EXISTS loans (
			id            uuid PRIMARY KEY,
			user_id       uuid NOT NULL,
			book_id       uuid NOT NULL REFERENCES books (id),
			borrowed_at   timestamptz NOT NULL,
			due_date      timestamptz NOT NULL,
			returned_at   timestamptz NULL,
			status        text NOT NULL,
			renewal_count integer NOT NULL DEFAULT 0,
			notes         text NULL
		)`)

	Exec(t, wrapper, `
		CREATE UNIQUE INDEX IF NOT EXISTS loans_one_active_per_user_book
		ON loans (user_id, book_id) WHERE status = 'active'`)

	Exec(t, wrapper, `
		CREATE TABLE IF NOT EXISTS notification_records (
			id           uuid PRIMARY KEY,
			user_id      uuid NOT NULL,
			loan_id      uuid NOT NULL,
			book_id      uuid NOT NULL,
			kind         text NOT NULL,
			payload      jsonb NOT NULL,
			acknowledged boolean NOT NULL DEFAULT false,
			created_at   timestamptz NOT NULL,
			expires_at   timestamptz NOT NULL
		)`)
}

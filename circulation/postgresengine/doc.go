// Package postgresengine provides the PostgreSQL implementation of the
// circulation core: the loan lifecycle (create, return, renew), the
// inventory ledger, the paginated loan listings, and the notification
// record log used by the scheduler.
//
// Every loan mutation runs as one transaction that locks the book row
// (SELECT ... FOR UPDATE) before checking availability, so concurrent
// loan creations can never oversell copies. The store works with pgx
// pools, sql.DB, and sqlx.DB connections through internal adapters.
//
// Expected schema (column names configurable only at the table level):
//
//	books(id uuid PK, title text, author text,
//	      total_quantity int, available_quantity int,
//	      created_at timestamptz, updated_at timestamptz,
//	      CHECK (available_quantity BETWEEN 0 AND total_quantity))
//
//	loans(id uuid PK, user_id uuid, book_id uuid,
//	      borrowed_at timestamptz, due_date timestamptz,
//	      returned_at timestamptz NULL, status text,
//	      renewal_count int, notes text NULL)
//	      + UNIQUE (user_id, book_id) WHERE status = 'active'
//
//	notification_records(id uuid PK, user_id uuid, loan_id uuid,
//	      book_id uuid, kind text, payload jsonb, acknowledged bool,
//	      created_at timestamptz, expires_at timestamptz)
package postgresengine

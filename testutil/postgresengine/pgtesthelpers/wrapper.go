package pgtesthelpers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/mediatheque/circulation-go/circulation/postgresengine"
	"github.com/mediatheque/circulation-go/testutil/postgresengine/config"
)

// Engine type constants
const (
	typePGXPool = "pgx.pool"
	typeSQLDB   = "sql.db"
	typeSQLXDB  = "sqlx.db"
)

// Wrapper interface to abstract over different engine types
type Wrapper interface {
	GetStore() postgresengine.CirculationStore
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing
type PGXPoolWrapper struct {
	pool  *pgxpool.Pool
	store postgresengine.CirculationStore
}

func (w *PGXPoolWrapper) GetStore() postgresengine.CirculationStore {
	return w.store
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing
type SQLDBWrapper struct {
	db    *sql.DB
	store postgresengine.CirculationStore
}

func (w *SQLDBWrapper) GetStore() postgresengine.CirculationStore {
	return w.store
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// SQLXWrapper wraps sqlx.DB-based testing
type SQLXWrapper struct {
	db    *sqlx.DB
	store postgresengine.CirculationStore
}

func (w *SQLXWrapper) GetStore() postgresengine.CirculationStore {
	return w.store
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error
}

// CreateWrapperWithTestConfig creates the appropriate wrapper based on the
// ADAPTER_TYPE environment variable, passing the given store options through.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	engineTypeFromEnv := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	switch engineTypeFromEnv {
	case typePGXPool, "":
		connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolTestConfig())
		assert.NoError(t, err, "error connecting to DB pool in test setup")

		store, err := postgresengine.NewCirculationStoreFromPGXPool(connPool, options...)
		assert.NoError(t, err, "error creating circulation store")

		return &PGXPoolWrapper{pool: connPool, store: store}

	case typeSQLDB:
		db := config.PostgresSQLDBTestConfig()

		store, err := postgresengine.NewCirculationStoreFromSQLDB(db, options...)
		assert.NoError(t, err, "error creating circulation store")

		return &SQLDBWrapper{db: db, store: store}

	case typeSQLXDB:
		db := config.PostgresSQLXTestConfig()

		store, err := postgresengine.NewCirculationStoreFromSQLX(db, options...)
		assert.NoError(t, err, "error creating circulation store")

		return &SQLXWrapper{db: db, store: store}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", engineTypeFromEnv))
	}
}

// TryCreateStoreWithOptions creates and discards a store with the given
// options and returns the construction error (for testing error cases).
func TryCreateStoreWithOptions(t testing.TB, options ...postgresengine.Option) error {
	engineTypeFromEnv := strings.ToLower(os.Getenv("ADAPTER_TYPE"))

	switch engineTypeFromEnv {
	case typePGXPool, "":
		connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolTestConfig())
		assert.NoError(t, err, "error connecting to DB pool in test setup")
		defer connPool.Close()

		_, err = postgresengine.NewCirculationStoreFromPGXPool(connPool, options...)
		return err

	case typeSQLDB:
		db := config.PostgresSQLDBTestConfig()
		defer func(db *sql.DB) {
			_ = db.Close() // makes no sense to handle this
		}(db)

		_, err := postgresengine.NewCirculationStoreFromSQLDB(db, options...)
		return err

	case typeSQLXDB:
		db := config.PostgresSQLXTestConfig()
		defer func(db *sqlx.DB) {
			_ = db.Close() // makes no sense to handle this
		}(db)

		_, err := postgresengine.NewCirculationStoreFromSQLX(db, options...)
		return err

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", engineTypeFromEnv))
	}
}

// Exec runs a statement on the wrapper's underlying connection.
func Exec(t testing.TB, wrapper Wrapper, statement string) {
	var err error

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		_, err = w.pool.Exec(context.Background(), statement)

	case *SQLDBWrapper:
		_, err = w.db.Exec(statement)

	case *SQLXWrapper:
		_, err = w.db.Exec(statement)

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	assert.NoError(t, err, "error executing statement in test setup")
}

// CleanUp empties all circulation tables for the given wrapper.
func CleanUp(t testing.TB, wrapper Wrapper) {
	Exec(t, wrapper, "TRUNCATE TABLE loans, notification_records, books")
}

// Package pgtesthelpers provides test utilities for PostgreSQL circulation testing with multi-adapter support.
//
// This package enables testing across different PostgreSQL drivers (pgx, sql.DB, sqlx.DB) through
// a unified Wrapper interface. Test adapter selection is controlled via the ADAPTER_TYPE environment
// variable, enabling comprehensive testing of all database implementations.
//
// Adapter Types:
//
//	PGXPoolWrapper: wraps pgx.Pool for high-performance connection pooling
//	SQLDBWrapper: wraps database/sql for standard library compatibility
//	SQLXWrapper: wraps sqlx.DB for extended SQL functionality
//
// Utility Functions:
//
//	CreateWrapperWithTestConfig: creates appropriate wrapper based on ADAPTER_TYPE env var
//	CreateSchema: creates the books, loans and notification_records tables
//	CleanUp: removes all circulation rows from the database for test isolation
//
// Environment Variables:
//
//	ADAPTER_TYPE: selects adapter (pgx.pool, sql.db, sqlx.db)
//	TEST_DSN: PostgreSQL test instance DSN
package pgtesthelpers

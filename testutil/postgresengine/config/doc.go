// Package config provides PostgreSQL database configuration for circulation testing.
//
// This package contains factory functions for creating database connections
// using the circulation store's supported PostgreSQL adapters (pgx.Pool,
// sql.DB, sqlx.DB) with a pre-configured test database DSN.
//
// The DSN can be overridden with the TEST_DSN environment variable so the
// integration test suite can run against a non-default database.
package config

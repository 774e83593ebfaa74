// Package adapters provides database adapter implementations for the PostgreSQL
// circulation store.
//
// This package implements the adapter pattern to support multiple PostgreSQL
// database libraries: pgx.Pool, sql.DB, and sqlx.DB. All adapters provide
// equivalent functionality through a common DBAdapter interface, allowing the
// circulation store to work seamlessly with any supported connection type.
//
// Beyond plain query execution the adapters expose transactions (DBTx) because
// every loan mutation must lock and update the book row and the loan row as one
// atomic unit.
package adapters

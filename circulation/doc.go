// Package circulation contains the core domain model of the borrowing
// lifecycle: typed records for books, loans, and notification records,
// the due-state classifier, the loan query builder, the error taxonomy,
// and the observability interfaces implemented by storage engines and
// adapters in the sub-packages.
//
// The package is persistence-free; all state lives behind the storage
// engines (see circulation/postgresengine).
package circulation

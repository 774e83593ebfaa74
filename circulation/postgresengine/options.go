package postgresengine

import (
	"time"

	"github.com/mediatheque/circulation-go/circulation"
)

// Option defines a functional option for configuring CirculationStore.
type Option func(*CirculationStore) error

// WithBooksTableName sets the table name holding the inventory ledger.
func WithBooksTableName(tableName string) Option {
	return func(cs *CirculationStore) error {
		if tableName == "" {
			return circulation.ErrEmptyTableNameSupplied
		}

		cs.booksTableName = tableName

		return nil
	}
}

// WithLoansTableName sets the table name holding the loan records.
func WithLoansTableName(tableName string) Option {
	return func(cs *CirculationStore) error {
		if tableName == "" {
			return circulation.ErrEmptyTableNameSupplied
		}

		cs.loansTableName = tableName

		return nil
	}
}

// WithNotificationsTableName sets the table name holding notification records.
func WithNotificationsTableName(tableName string) Option {
	return func(cs *CirculationStore) error {
		if tableName == "" {
			return circulation.ErrEmptyTableNameSupplied
		}

		cs.notificationsTableName = tableName

		return nil
	}
}

// WithClock sets the time source for every time-dependent decision the store
// makes (due-date validation, overdue filtering, timestamps). Defaults to the
// system clock in UTC.
func WithClock(clock circulation.Clock) Option {
	return func(cs *CirculationStore) error {
		cs.clock = clock
		return nil
	}
}

// WithRenewalLimit sets how often a single loan may be renewed.
// Defaults to circulation.DefaultRenewalLimit.
func WithRenewalLimit(limit int) Option {
	return func(cs *CirculationStore) error {
		cs.renewalLimit = limit
		return nil
	}
}

// WithLoanPeriod sets the ceiling for how far in the future a due date may
// lie. Defaults to circulation.DefaultLoanPeriod.
func WithLoanPeriod(period time.Duration) Option {
	return func(cs *CirculationStore) error {
		cs.loanPeriod = period
		return nil
	}
}

// WithLogger sets the logger for the CirculationStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Loan lifecycle events, durations (production-safe)
// Warn level: Non-critical issues like rollback/cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger circulation.Logger) Option {
	return func(cs *CirculationStore) error {
		cs.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the CirculationStore.
// The contextual logger will receive log messages with context information
// including automatic trace/span correlation when tracing is enabled.
func WithContextualLogger(logger circulation.ContextualLogger) Option {
	return func(cs *CirculationStore) error {
		cs.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the CirculationStore.
// The collector will receive operation durations, loan lifecycle counters,
// and database error counters.
func WithMetrics(collector circulation.MetricsCollector) Option {
	return func(cs *CirculationStore) error {
		cs.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the CirculationStore.
// The collector will receive span creation for loan operations, context
// propagation, and error tracking.
func WithTracing(collector circulation.TracingCollector) Option {
	return func(cs *CirculationStore) error {
		cs.tracingCollector = collector
		return nil
	}
}

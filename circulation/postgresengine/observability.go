package postgresengine

import (
	"context"
	"math"
	"time"

	"github.com/mediatheque/circulation-go/circulation"
)

const (
	actionQuery  = "query"
	actionInsert = "insert"
	actionUpdate = "update"
	actionDelete = "delete"

	opCreateLoan     = "create_loan"
	opReturnLoan     = "return_loan"
	opRenewLoan      = "renew_loan"
	opResizeCapacity = "resize_capacity"

	spanCreateLoan     = "circulation.create_loan"
	spanReturnLoan     = "circulation.return_loan"
	spanRenewLoan      = "circulation.renew_loan"
	spanResizeCapacity = "circulation.resize_capacity"

	spanAttrOperation = "operation"
	spanAttrErrorType = "error_type"
	spanAttrLoanID    = "loan_id"
	spanAttrBookID    = "book_id"
	spanAttrUserID    = "user_id"

	metricOperationDuration = "circulation_operation_duration_seconds"
	metricDatabaseErrors    = "circulation_database_errors_total"

	statusSuccess = "success"
	statusError   = "error"
)

// logQueryWithDuration logs SQL queries with execution time at debug level if a logger is configured.
func (cs CirculationStore) logQueryWithDuration(
	ctx context.Context,
	sqlQuery string,
	action string,
	duration time.Duration,
) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action,
			logAttrDurationMS, cs.toMilliseconds(duration), logAttrQuery, sqlQuery)
		return
	}

	if cs.logger != nil {
		cs.logger.Debug(logMsgSQLExecuted+action,
			logAttrDurationMS, cs.toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if a logger is configured.
func (cs CirculationStore) logOperation(ctx context.Context, action string, args ...any) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
		return
	}

	if cs.logger != nil {
		cs.logger.Info(logMsgOperation+action, args...)
	}
}

// logWarn logs non-critical issues at warn level if a logger is configured.
func (cs CirculationStore) logWarn(ctx context.Context, msg string, args ...any) {
	if cs.contextualLogger != nil {
		cs.contextualLogger.WarnContext(ctx, msg, args...)
		return
	}

	if cs.logger != nil {
		cs.logger.Warn(msg, args...)
	}
}

// logError logs error information at error level if a logger is configured.
func (cs CirculationStore) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if cs.contextualLogger != nil {
		cs.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if cs.logger != nil {
		cs.logger.Error(msg, allArgs...)
	}
}

// startSpan starts a tracing span if a tracing collector is configured.
func (cs CirculationStore) startSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, circulation.SpanContext) {

	if cs.tracingCollector == nil {
		return ctx, nil
	}

	return cs.tracingCollector.StartSpan(ctx, name, attrs)
}

// finishOperation closes the span and records duration and error metrics for
// one store operation.
func (cs CirculationStore) finishOperation(
	ctx context.Context,
	span circulation.SpanContext,
	operation string,
	duration time.Duration,
	err error,
) {

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	if span != nil && cs.tracingCollector != nil {
		attrs := map[string]string{spanAttrOperation: operation}
		if err != nil {
			attrs[spanAttrErrorType] = err.Error()
		}

		cs.tracingCollector.FinishSpan(span, status, attrs)
	}

	cs.recordDurationMetrics(ctx, metricOperationDuration, duration, operation, status)

	if err != nil {
		cs.recordErrorMetrics(ctx, operation, err.Error())
	}
}

// recordDurationMetrics records duration metrics, context-aware when the collector supports it.
func (cs CirculationStore) recordDurationMetrics(
	ctx context.Context,
	metricName string,
	duration time.Duration,
	operation string,
	status string,
) {
	if cs.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          status,
	}

	if contextualCollector, ok := cs.metricsCollector.(circulation.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricName, duration, labels)
	} else {
		cs.metricsCollector.RecordDuration(metricName, duration, labels)
	}
}

// recordErrorMetrics records error counters, context-aware when the collector supports it.
func (cs CirculationStore) recordErrorMetrics(ctx context.Context, operation string, errorType string) {
	if cs.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          statusError,
		spanAttrErrorType: errorType,
	}

	if contextualCollector, ok := cs.metricsCollector.(circulation.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metricDatabaseErrors, labels)
	} else {
		cs.metricsCollector.IncrementCounter(metricDatabaseErrors, labels)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (cs CirculationStore) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

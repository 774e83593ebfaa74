package oteladapters_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mediatheque/circulation-go/circulation/oteladapters"
)

func newTestCollector(t *testing.T) (*oteladapters.MetricsCollector, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	collector := oteladapters.NewMetricsCollector(provider.Meter("circulation-test"))
	require.NotNil(t, collector, "NewMetricsCollector should return non-nil collector")

	return collector, reader
}

func Test_MetricsCollector_RecordDuration(t *testing.T) {
	// setup
	collector, reader := newTestCollector(t)
	labels := map[string]string{
		"operation": "create_loan",
		"status":    "success",
	}

	// act
	collector.RecordDuration("circulation_operation_duration_seconds", 150*time.Millisecond, labels)

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err, "Failed to collect metrics")

	histogram := findHistogramMetric(t, resourceMetrics, "circulation_operation_duration_seconds")
	require.Len(t, histogram.DataPoints, 1, "Expected exactly one data point")
	dataPoint := histogram.DataPoints[0]
	assert.Equal(t, uint64(1), dataPoint.Count, "Histogram count should be 1")
	assert.InDelta(t, 0.15, dataPoint.Sum, 0.001, "Histogram sum should be 0.15 seconds")
}

func Test_MetricsCollector_IncrementCounter(t *testing.T) {
	// setup
	collector, reader := newTestCollector(t)
	labels := map[string]string{"kind": "overdue"}

	// act
	collector.IncrementCounter("circulation_notifications_sent_total", labels)
	collector.IncrementCounter("circulation_notifications_sent_total", labels)

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err, "Failed to collect metrics")

	sum := findCounterMetric(t, resourceMetrics, "circulation_notifications_sent_total")
	require.Len(t, sum.DataPoints, 1, "Expected exactly one data point")
	assert.Equal(t, int64(2), sum.DataPoints[0].Value, "Counter should be incremented twice")
}

func Test_MetricsCollector_RecordValue(t *testing.T) {
	// setup
	collector, reader := newTestCollector(t)

	// act
	collector.RecordValue("circulation_active_loans", 42, nil)

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err, "Failed to collect metrics")

	gauge := findGaugeMetric(t, resourceMetrics, "circulation_active_loans")
	require.Len(t, gauge.DataPoints, 1, "Expected exactly one data point")
	assert.InDelta(t, 42.0, gauge.DataPoints[0].Value, 0.001, "Gauge should hold the recorded value")
}

func Test_MetricsCollector_ContextVariants(t *testing.T) {
	// setup
	collector, reader := newTestCollector(t)
	ctx := context.Background()

	// act
	collector.RecordDurationContext(ctx, "circulation_notification_pass_duration_seconds", time.Second, nil)
	collector.IncrementCounterContext(ctx, "circulation_database_errors_total", nil)
	collector.RecordValueContext(ctx, "circulation_available_copies", 7, nil)

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &resourceMetrics)
	require.NoError(t, err, "Failed to collect metrics")

	findHistogramMetric(t, resourceMetrics, "circulation_notification_pass_duration_seconds")
	findCounterMetric(t, resourceMetrics, "circulation_database_errors_total")
	findGaugeMetric(t, resourceMetrics, "circulation_available_copies")
}

func findHistogramMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Histogram[float64] {
	t.Helper()

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				histogram, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok, "Metric %s should be a float64 histogram", name)

				return histogram
			}
		}
	}

	t.Fatalf("Histogram metric %s not found", name)

	return metricdata.Histogram[float64]{}
}

func findCounterMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "Metric %s should be an int64 sum", name)

				return sum
			}
		}
	}

	t.Fatalf("Counter metric %s not found", name)

	return metricdata.Sum[int64]{}
}

func findGaugeMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Gauge[float64] {
	t.Helper()

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				gauge, ok := m.Data.(metricdata.Gauge[float64])
				require.True(t, ok, "Metric %s should be a float64 gauge", name)

				return gauge
			}
		}
	}

	t.Fatalf("Gauge metric %s not found", name)

	return metricdata.Gauge[float64]{}
}

package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// RefreshMeterName is the meter scope for refresh scheduler instruments
	RefreshMeterName = "github.com/stacklok/cadence-sync/refresh"

	// QueueMeterName is the meter scope for offline queue instruments
	QueueMeterName = "github.com/stacklok/cadence-sync/queue"
)

// Attribute keys shared by the instruments below
const (
	AttrReason        = "reason"
	AttrSuccess       = "success"
	AttrOperationType = "operation_type"
	AttrResult        = "result"
)

// Results recorded for a queued operation execution
const (
	ResultSucceeded   = "succeeded"
	ResultRetrying    = "retrying"
	ResultQuarantined = "quarantined"
)

// RefreshMetrics records background refresh outcomes.
// All methods are nil-safe so an unconfigured scheduler can hold a nil pointer.
type RefreshMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRefreshMetrics creates refresh instruments. A nil provider yields nil metrics.
func NewRefreshMetrics(provider metric.MeterProvider) (*RefreshMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(RefreshMeterName)

	runs, err := meter.Int64Counter(
		"cadence_sync_refresh_runs_total",
		metric.WithDescription("Total number of background refresh runs by outcome reason"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"cadence_sync_refresh_duration_seconds",
		metric.WithDescription("Duration of background refresh runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	slog.Debug("Refresh metrics initialized")
	return &RefreshMetrics{runs: runs, duration: duration}, nil
}

// RecordRun records one finished refresh run
func (m *RefreshMetrics) RecordRun(ctx context.Context, reason string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrReason, reason),
		attribute.Bool(AttrSuccess, success),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// QueueMetrics records offline queue activity. All methods are nil-safe.
type QueueMetrics struct {
	executions metric.Int64Counter
	drains     metric.Int64Counter
	pending    metric.Int64Gauge
}

// NewQueueMetrics creates queue instruments. A nil provider yields nil metrics.
func NewQueueMetrics(provider metric.MeterProvider) (*QueueMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(QueueMeterName)

	executions, err := meter.Int64Counter(
		"cadence_sync_queue_executions_total",
		metric.WithDescription("Total number of queued operation executions by result"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	drains, err := meter.Int64Counter(
		"cadence_sync_queue_drains_total",
		metric.WithDescription("Total number of queue drain passes"),
		metric.WithUnit("{drain}"),
	)
	if err != nil {
		return nil, err
	}

	pending, err := meter.Int64Gauge(
		"cadence_sync_queue_pending",
		metric.WithDescription("Number of operations waiting to be executed"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	slog.Debug("Queue metrics initialized")
	return &QueueMetrics{executions: executions, drains: drains, pending: pending}, nil
}

// RecordExecution records one attempt to execute a queued operation
func (m *QueueMetrics) RecordExecution(ctx context.Context, opType, result string) {
	if m == nil {
		return
	}
	m.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrOperationType, opType),
		attribute.String(AttrResult, result),
	))
}

// RecordDrain records a drain pass that actually ran
func (m *QueueMetrics) RecordDrain(ctx context.Context) {
	if m == nil {
		return
	}
	m.drains.Add(ctx, 1)
}

// RecordPending records the current number of pending operations
func (m *QueueMetrics) RecordPending(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.pending.Record(ctx, int64(count))
}

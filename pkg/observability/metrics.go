package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for checkpoint leasing and collection runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lease metrics
	AcquireTotal        metric.Int64Counter
	AcquireBootstrap    metric.Int64Counter
	SingletonViolations metric.Int64Counter

	// Commit metrics
	CommitTotal  metric.Int64Counter
	StaleRelease metric.Int64Counter

	// Queue metrics
	QueueLatency metric.Float64Histogram

	// Run metrics
	RunDuration metric.Float64Histogram
	RunErrors   metric.Int64Counter
	StreamLag   metric.Float64Gauge
}

// NewMetrics creates all metric instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AcquireTotal, err = meter.Int64Counter(
		"liststate.acquire.total",
		metric.WithDescription("Checkpoint acquire attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating acquire.total: %w", err)
	}

	m.AcquireBootstrap, err = meter.Int64Counter(
		"liststate.acquire.bootstrap",
		metric.WithDescription("Acquires that bootstrapped a fresh checkpoint set"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating acquire.bootstrap: %w", err)
	}

	m.SingletonViolations, err = meter.Int64Counter(
		"liststate.acquire.singleton_violations",
		metric.WithDescription("Acquires rejected because another instance holds the lease"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating acquire.singleton_violations: %w", err)
	}

	m.CommitTotal, err = meter.Int64Counter(
		"liststate.commit.total",
		metric.WithDescription("Checkpoint sets committed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commit.total: %w", err)
	}

	m.StaleRelease, err = meter.Int64Counter(
		"liststate.commit.stale_release",
		metric.WithDescription("Commits whose lease release found no message"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commit.stale_release: %w", err)
	}

	m.QueueLatency, err = meter.Float64Histogram(
		"liststate.queue.latency",
		metric.WithDescription("Lease queue call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue.latency: %w", err)
	}

	m.RunDuration, err = meter.Float64Histogram(
		"liststate.run.duration",
		metric.WithDescription("Collection run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating run.duration: %w", err)
	}

	m.RunErrors, err = meter.Int64Counter(
		"liststate.run.errors",
		metric.WithDescription("Collection runs that ended without a commit"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating run.errors: %w", err)
	}

	m.StreamLag, err = meter.Float64Gauge(
		"liststate.stream.lag",
		metric.WithDescription("Seconds between now and the committed checkpoint of a stream"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.lag: %w", err)
	}

	return m, nil
}

// AcquireOutcome labels the result of an acquire.
type AcquireOutcome string

const (
	AcquireLeased    AcquireOutcome = "leased"
	AcquireBootstrap AcquireOutcome = "bootstrap"
	AcquireRejected  AcquireOutcome = "singleton_violation"
	AcquireFailed    AcquireOutcome = "error"
)

// RecordAcquire records one acquire attempt.
func (m *Metrics) RecordAcquire(ctx context.Context, queue string, outcome AcquireOutcome) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", string(outcome)),
	)

	m.AcquireTotal.Add(ctx, 1, attrs)
	switch outcome {
	case AcquireBootstrap:
		m.AcquireBootstrap.Add(ctx, 1, attrs)
	case AcquireRejected:
		m.SingletonViolations.Add(ctx, 1, attrs)
	}
}

// RecordCommit records a commit and whether its release was stale.
func (m *Metrics) RecordCommit(ctx context.Context, queue string, staleRelease bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("queue", queue))

	m.CommitTotal.Add(ctx, 1, attrs)
	if staleRelease {
		m.StaleRelease.Add(ctx, 1, attrs)
	}
}

// RecordQueueCall records the latency of a single queue operation.
func (m *Metrics) RecordQueueCall(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.QueueLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", err == nil),
	))
}

// RecordRun records a finished collection run.
func (m *Metrics) RecordRun(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.RunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err != nil {
		m.RunErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", fmt.Sprintf("%T", err))))
	}
}

// RecordStreamLag records how far a stream's committed checkpoint trails now.
func (m *Metrics) RecordStreamLag(ctx context.Context, stream string, lag time.Duration) {
	if m == nil {
		return
	}
	m.StreamLag.Record(ctx, lag.Seconds(), metric.WithAttributes(attribute.String("stream", stream)))
}

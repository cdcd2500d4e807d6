// Package poller runs collection passes against the checkpoint store: take
// the lease, plan one window per stream, collect every window, aggregate
// the results into the next checkpoint set and commit it.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaenen/liststate/pkg/checkpoint"
	"github.com/plaenen/liststate/pkg/leasequeue"
	"github.com/plaenen/liststate/pkg/liststate"
	"github.com/plaenen/liststate/pkg/observability"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Collector lists the content available in one window.
type Collector interface {
	Collect(ctx context.Context, window checkpoint.ListWindow) (checkpoint.CollectionResult, error)
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func(ctx context.Context, window checkpoint.ListWindow) (checkpoint.CollectionResult, error)

// Collect implements Collector.
func (f CollectorFunc) Collect(ctx context.Context, window checkpoint.ListWindow) (checkpoint.CollectionResult, error) {
	return f(ctx, window)
}

// Store is the part of liststate.Store the poller needs.
type Store interface {
	Streams() []string
	Acquire(ctx context.Context) (checkpoint.Set, *leasequeue.Lease, error)
	Commit(ctx context.Context, set checkpoint.Set, lease *leasequeue.Lease) error
}

var _ Store = (*liststate.Store)(nil)

// Poller runs collection passes.
type Poller struct {
	store       Store
	streams     []string
	collector   Collector
	aggregator  *checkpoint.Aggregator
	concurrency int
	boundWindow bool
	clock       func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *observability.Metrics
}

// Option configures a Poller.
type Option func(*Poller)

// WithAggregator replaces the default aggregator.
func WithAggregator(a *checkpoint.Aggregator) Option {
	return func(p *Poller) {
		p.aggregator = a
	}
}

// WithConcurrency caps how many windows are collected at once. Default is
// one per stream.
func WithConcurrency(n int) Option {
	return func(p *Poller) {
		p.concurrency = n
	}
}

// WithBoundedWindows sets every window's end to the pass start time.
func WithBoundedWindows(enabled bool) Option {
	return func(p *Poller) {
		p.boundWindow = enabled
	}
}

// WithClock sets the time source used for planning.
func WithClock(clock func() time.Time) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

// WithLogger sets the logger for the poller.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer for the poller.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Poller) {
		p.tracer = tracer
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Poller) {
		p.metrics = metrics
	}
}

// New creates a poller over store for the store's configured streams.
func New(store Store, collector Collector, opts ...Option) *Poller {
	p := &Poller{
		store:      store,
		streams:    store.Streams(),
		collector:  collector,
		aggregator: checkpoint.NewAggregator(),
		clock:      time.Now,
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one pass and returns the committed set.
//
// liststate.ErrSingletonViolation is returned as is when another instance
// holds the lease. A collector or aggregation failure aborts the pass
// without committing; the lease then expires and a later pass retries the
// same windows.
func (p *Poller) Run(ctx context.Context) (next checkpoint.Set, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, p.tracer, "poller.Run",
		observability.WithAttributes(observability.AttrStreamCount.Int(len(p.streams))))
	defer func() {
		if !errors.Is(err, liststate.ErrSingletonViolation) {
			p.metrics.RecordRun(ctx, time.Since(start), err)
		}
		observability.EndSpan(span, err)
	}()

	stored, lease, err := p.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	// A bootstrap set has no committed positions, so every stream is planned
	// as newly seen and starts at now.
	planned := stored
	if lease == nil {
		planned = nil
	}

	now := p.clock()
	windows := checkpoint.PlanWindows(p.streams, planned, now)
	if p.boundWindow {
		for i := range windows {
			windows[i] = windows[i].WithEnd(now)
		}
	}

	results, err := p.collect(ctx, windows)
	if err != nil {
		p.logger.ErrorContext(ctx, "collection failed, checkpoint not advanced", "error", err)
		return nil, err
	}

	next, err = p.aggregator.Aggregate(results)
	if err != nil {
		return nil, fmt.Errorf("aggregate results: %w", err)
	}

	if err := p.store.Commit(ctx, next, lease); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "collection pass complete",
		"streams", len(next),
		"duration", time.Since(start))
	return next, nil
}

func (p *Poller) collect(ctx context.Context, windows []checkpoint.ListWindow) ([]checkpoint.CollectionResult, error) {
	results := make([]checkpoint.CollectionResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}

	for i, window := range windows {
		g.Go(func() error {
			p.logger.DebugContext(gctx, "collecting window",
				"stream", window.StreamName,
				"list_start_ts", checkpoint.FormatTimestamp(window.ListStartTs))

			res, err := p.collector.Collect(gctx, window)
			if err != nil {
				return fmt.Errorf("collect %s: %w", window.StreamName, err)
			}
			if res.StreamName == "" {
				res.StreamName = window.StreamName
			}
			if res.StreamName != window.StreamName {
				return fmt.Errorf("collector returned stream %q for window of %q", res.StreamName, window.StreamName)
			}
			if res.Window.StreamName == "" {
				res.Window = window
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

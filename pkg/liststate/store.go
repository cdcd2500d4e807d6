// Package liststate implements the checkpoint store: a single-slot lease
// queue used both as the persisted "last collected timestamp per stream" and
// as the lock that keeps concurrent poller instances from advancing it twice.
//
// A run calls Acquire, plans and collects, then calls Commit:
//
//	set, lease, err := store.Acquire(ctx)
//	if errors.Is(err, liststate.ErrSingletonViolation) {
//	    return err // another instance is running; the scheduler retries later
//	}
//	windows := checkpoint.PlanWindows(streams, set, time.Now())
//	results, err := collect(ctx, windows)
//	next, err := checkpoint.Aggregate(results)
//	err = store.Commit(ctx, next, lease)
package liststate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaenen/liststate/pkg/checkpoint"
	"github.com/plaenen/liststate/pkg/leasequeue"
	"github.com/plaenen/liststate/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultVisibilityTimeout bounds how long a crashed run can block progress.
	// It must exceed the longest expected collection pass.
	DefaultVisibilityTimeout = 180 * time.Second

	// DefaultCallTimeout bounds each individual queue call.
	DefaultCallTimeout = 30 * time.Second

	// DefaultQueueName names the slot in logs and metrics.
	DefaultQueueName = "o365-list-state"
)

var (
	// ErrSingletonViolation is returned by Acquire when another instance holds
	// an unexpired lease. The run must abort without collecting; it is never
	// retried here.
	ErrSingletonViolation = errors.New("singleton violation: checkpoint lease is held by another instance")

	// ErrReleaseFailed is returned by Commit when the new set was published but
	// releasing the previous message failed for a reason other than a stale
	// lease. The new set is committed; the old message expires on its own.
	ErrReleaseFailed = errors.New("checkpoint committed but previous lease release failed")

	// ErrNoStreams is returned by New when no stream is configured.
	ErrNoStreams = errors.New("at least one stream is required")

	// ErrResetUnsupported is returned by Reset when the queue cannot delete
	// its backing resource.
	ErrResetUnsupported = errors.New("queue backend does not support reset")
)

// Store is the checkpoint store. It is safe for concurrent use; mutual
// exclusion across processes comes from the queue, not from the Store.
type Store struct {
	queue             leasequeue.Queue
	codec             *checkpoint.Codec
	streams           []string
	queueName         string
	visibilityTimeout time.Duration
	callTimeout       time.Duration
	clock             func() time.Time
	logger            *slog.Logger
	tracer            trace.Tracer
	metrics           *observability.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithVisibilityTimeout sets the lease duration. Default is 180 seconds.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.visibilityTimeout = d
	}
}

// WithCallTimeout sets the timeout of each queue call, independent of the lease.
// Default is 30 seconds.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.callTimeout = d
	}
}

// WithCodec replaces the payload codec.
func WithCodec(codec *checkpoint.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithQueueName sets the name used in logs and metrics.
func WithQueueName(name string) Option {
	return func(s *Store) {
		s.queueName = name
	}
}

// WithClock sets the time source used for bootstrap and lease checks.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer for the store.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		s.tracer = tracer
	}
}

// WithMetrics sets the metric instruments. Nil disables metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// New creates a store over queue for the configured streams.
func New(queue leasequeue.Queue, streams []string, opts ...Option) (*Store, error) {
	if queue == nil {
		return nil, fmt.Errorf("lease queue is required")
	}
	if len(streams) == 0 {
		return nil, ErrNoStreams
	}

	s := &Store{
		queue:             queue,
		codec:             checkpoint.NewCodec(),
		streams:           append([]string(nil), streams...),
		queueName:         DefaultQueueName,
		visibilityTimeout: DefaultVisibilityTimeout,
		callTimeout:       DefaultCallTimeout,
		clock:             time.Now,
		logger:            slog.Default(),
		tracer:            noop.NewTracerProvider().Tracer("liststate"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.visibilityTimeout <= 0 {
		return nil, fmt.Errorf("visibility timeout must be greater than zero")
	}
	if s.callTimeout <= 0 {
		return nil, fmt.Errorf("call timeout must be greater than zero")
	}
	if err := checkpoint.NewBootstrapSet(s.streams, time.Time{}).Validate(); err != nil {
		return nil, fmt.Errorf("invalid streams: %w", err)
	}

	return s, nil
}

// Streams returns the configured stream names.
func (s *Store) Streams() []string {
	return append([]string(nil), s.streams...)
}

// Acquire reads the committed checkpoint set and takes the lease on it.
//
// On a never-created slot it returns a bootstrap set (every stream at now)
// and a nil lease. When another instance holds the lease it returns
// ErrSingletonViolation. A payload that cannot be decoded is an error; it is
// never replaced by a bootstrap set.
func (s *Store) Acquire(ctx context.Context) (set checkpoint.Set, lease *leasequeue.Lease, err error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "liststate.Acquire",
		observability.WithAttributes(observability.AttrQueue.String(s.queueName)))
	defer func() {
		if errors.Is(err, ErrSingletonViolation) {
			span.SetAttributes(attribute.Bool("liststate.singleton_violation", true))
		}
		observability.EndSpan(span, err)
	}()

	msg, ok, err := s.dequeue(ctx)
	switch {
	case errors.Is(err, leasequeue.ErrQueueMissing):
		now := s.clock()
		set = checkpoint.NewBootstrapSet(s.streams, now)
		span.SetAttributes(observability.AttrBootstrap.Bool(true))
		s.metrics.RecordAcquire(ctx, s.queueName, observability.AcquireBootstrap)
		s.logger.InfoContext(ctx, "no checkpoint slot found, bootstrapping",
			"queue", s.queueName,
			"streams", len(set),
			"last_collected_ts", checkpoint.FormatTimestamp(now))
		return set, nil, nil

	case err != nil:
		s.metrics.RecordAcquire(ctx, s.queueName, observability.AcquireFailed)
		return nil, nil, fmt.Errorf("acquire checkpoint lease: %w", err)

	case !ok:
		s.metrics.RecordAcquire(ctx, s.queueName, observability.AcquireRejected)
		s.logger.WarnContext(ctx, "checkpoint lease held by another instance, aborting run",
			"queue", s.queueName)
		return nil, nil, ErrSingletonViolation
	}

	span.SetAttributes(observability.LeaseAttrs(msg.Lease.MessageID, msg.Lease.ExpiresAt.Format(time.RFC3339Nano))...)

	set, err = s.codec.Decode(msg.Payload)
	if err != nil {
		s.metrics.RecordAcquire(ctx, s.queueName, observability.AcquireFailed)
		s.logger.ErrorContext(ctx, "stored checkpoint is unreadable",
			"queue", s.queueName,
			"message_id", msg.Lease.MessageID,
			"error", err)
		return nil, nil, fmt.Errorf("decode message %s: %w", msg.Lease.MessageID, err)
	}

	s.metrics.RecordAcquire(ctx, s.queueName, observability.AcquireLeased)
	s.logger.DebugContext(ctx, "checkpoint lease acquired",
		"queue", s.queueName,
		"message_id", msg.Lease.MessageID,
		"dequeue_count", msg.DequeueCount,
		"expires_at", msg.Lease.ExpiresAt)

	l := msg.Lease
	return set, &l, nil
}

// Commit publishes set as the slot's new message and then releases lease.
//
// Publishing happens first so the slot is never left empty. A release that
// finds no message (the lease expired or the message is already gone) is
// logged and tolerated because the new set is already published.
func (s *Store) Commit(ctx context.Context, set checkpoint.Set, lease *leasequeue.Lease) (err error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "liststate.Commit",
		observability.WithAttributes(
			observability.AttrQueue.String(s.queueName),
			observability.AttrStreamCount.Int(len(set)),
		))
	defer func() { observability.EndSpan(span, err) }()

	payload, err := s.codec.Encode(set)
	if err != nil {
		return fmt.Errorf("encode checkpoint set: %w", err)
	}

	if err := s.enqueue(ctx, payload); err != nil {
		return fmt.Errorf("publish checkpoint set: %w", err)
	}

	now := s.clock()
	for _, cp := range set {
		s.metrics.RecordStreamLag(ctx, cp.StreamName, now.Sub(cp.LastCollectedTs))
		s.logger.DebugContext(ctx, "stream checkpoint committed",
			"stream", cp.StreamName,
			"last_collected_ts", checkpoint.FormatTimestamp(cp.LastCollectedTs))
	}

	if lease == nil {
		s.metrics.RecordCommit(ctx, s.queueName, false)
		s.logger.InfoContext(ctx, "checkpoint set committed", "queue", s.queueName, "streams", len(set))
		return nil
	}

	span.SetAttributes(observability.LeaseAttrs(lease.MessageID, lease.ExpiresAt.Format(time.RFC3339Nano))...)

	if !lease.Valid(now) {
		s.logger.WarnContext(ctx, "checkpoint lease expired before commit",
			"queue", s.queueName,
			"message_id", lease.MessageID,
			"expired_for", now.Sub(lease.ExpiresAt))
	}

	err = s.delete(ctx, *lease)
	switch {
	case errors.Is(err, leasequeue.ErrNotFound):
		s.metrics.RecordCommit(ctx, s.queueName, true)
		observability.AddSpanEvent(ctx, "stale_release", observability.AttrMessageID.String(lease.MessageID))
		s.logger.WarnContext(ctx, "previous checkpoint message already gone, release skipped",
			"queue", s.queueName,
			"message_id", lease.MessageID,
			"error", err)
		err = nil

	case err != nil:
		s.metrics.RecordCommit(ctx, s.queueName, false)
		s.logger.ErrorContext(ctx, "checkpoint committed but lease release failed",
			"queue", s.queueName,
			"message_id", lease.MessageID,
			"error", err)
		return fmt.Errorf("%w: %w", ErrReleaseFailed, err)

	default:
		s.metrics.RecordCommit(ctx, s.queueName, false)
	}

	s.logger.InfoContext(ctx, "checkpoint set committed", "queue", s.queueName, "streams", len(set))
	return nil
}

// Reset deletes the slot so that the next Acquire bootstraps every stream at
// now. It takes the lease first and fails with ErrSingletonViolation while
// another instance holds it. The payload is not decoded, so an unreadable
// slot can be reset too. It reports false when there was no slot to delete.
func (s *Store) Reset(ctx context.Context) (dropped bool, err error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "liststate.Reset",
		observability.WithAttributes(observability.AttrQueue.String(s.queueName)))
	defer func() { observability.EndSpan(span, err) }()

	dropper, ok := s.queue.(leasequeue.Dropper)
	if !ok {
		return false, ErrResetUnsupported
	}

	msg, ok, err := s.dequeue(ctx)
	switch {
	case errors.Is(err, leasequeue.ErrQueueMissing):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("acquire checkpoint lease: %w", err)
	case !ok:
		s.logger.WarnContext(ctx, "checkpoint lease held by another instance, not resetting",
			"queue", s.queueName)
		return false, ErrSingletonViolation
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	err = dropper.Drop(ctx)
	s.metrics.RecordQueueCall(ctx, "drop", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("drop checkpoint slot: %w", err)
	}

	s.logger.WarnContext(ctx, "checkpoint slot reset",
		"queue", s.queueName,
		"message_id", msg.Lease.MessageID)
	return true, nil
}

func (s *Store) dequeue(ctx context.Context) (*leasequeue.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	msg, ok, err := s.queue.Dequeue(ctx, s.visibilityTimeout)
	s.metrics.RecordQueueCall(ctx, "dequeue", time.Since(start), ignoreMissing(err))
	return msg, ok, err
}

func (s *Store) enqueue(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	err := s.queue.Enqueue(ctx, payload)
	s.metrics.RecordQueueCall(ctx, "enqueue", time.Since(start), err)
	return err
}

func (s *Store) delete(ctx context.Context, lease leasequeue.Lease) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	err := s.queue.Delete(ctx, lease)
	s.metrics.RecordQueueCall(ctx, "delete", time.Since(start), err)
	return err
}

func ignoreMissing(err error) error {
	if errors.Is(err, leasequeue.ErrQueueMissing) {
		return nil
	}
	return err
}

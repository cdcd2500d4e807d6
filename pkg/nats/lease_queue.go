package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/plaenen/liststate/pkg/leasequeue"
)

const (
	ackSubjectPrefix = "$JS.ACK."
	consumerName     = "liststate-lease"
)

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// LeaseQueue is a leasequeue.Queue on a JetStream work-queue stream.
//
// The stream keeps one message per subject, so publishing replaces the slot.
// A single durable pull consumer with MaxAckPending 1 hands out the lease;
// its AckWait is the visibility timeout. The pop receipt is the delivery's
// ack subject, so any process on the same server can release it.
type LeaseQueue struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	name    string
	stream  string
	subject string
	storage nats.StorageType
	replica int

	fetchWait time.Duration
	clock     func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	ackWait  time.Duration
	sub      *nats.Subscription
	released string
}

// QueueOption configures a LeaseQueue.
type QueueOption func(*LeaseQueue)

// WithMemoryStorage keeps the stream in memory. Intended for tests.
func WithMemoryStorage() QueueOption {
	return func(q *LeaseQueue) {
		q.storage = nats.MemoryStorage
	}
}

// WithReplicas sets the stream replica count on clustered servers.
func WithReplicas(n int) QueueOption {
	return func(q *LeaseQueue) {
		q.replica = n
	}
}

// WithFetchWait bounds how long Dequeue waits for the slot before
// reporting it empty. Default is one second.
func WithFetchWait(d time.Duration) QueueOption {
	return func(q *LeaseQueue) {
		q.fetchWait = d
	}
}

// WithClock sets the time source used for lease expiry.
func WithClock(clock func() time.Time) QueueOption {
	return func(q *LeaseQueue) {
		q.clock = clock
	}
}

// WithLogger sets the logger for the queue.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(q *LeaseQueue) {
		q.logger = logger
	}
}

// NewLeaseQueue returns the queue called name on nc.
func NewLeaseQueue(nc *nats.Conn, name string, opts ...QueueOption) (*LeaseQueue, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream context: %w", err)
	}

	token := invalidNameChars.ReplaceAllString(name, "_")
	q := &LeaseQueue{
		nc:        nc,
		js:        js,
		name:      name,
		stream:    "LISTSTATE_" + strings.ToUpper(token),
		subject:   "liststate.slot." + token,
		storage:   nats.FileStorage,
		replica:   1,
		fetchWait: time.Second,
		clock:     time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// StreamName returns the JetStream stream backing the queue.
func (q *LeaseQueue) StreamName() string {
	return q.stream
}

// Dequeue implements leasequeue.Queue.
func (q *LeaseQueue) Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*leasequeue.Message, bool, error) {
	if visibilityTimeout <= 0 {
		return nil, false, fmt.Errorf("visibility timeout must be greater than zero")
	}

	if _, err := q.js.StreamInfo(q.stream, nats.Context(ctx)); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			return nil, false, leasequeue.ErrQueueMissing
		}
		return nil, false, transportErr("stream info", err)
	}

	sub, err := q.subscription(ctx, visibilityTimeout)
	if err != nil {
		return nil, false, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, q.fetchWait)
	defer cancel()

	msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return nil, false, transportErr("fetch", ctx.Err())
			}
			return nil, false, nil
		}
		return nil, false, transportErr("fetch", err)
	}
	if len(msgs) == 0 {
		return nil, false, nil
	}

	msg := msgs[0]
	meta, err := msg.Metadata()
	if err != nil {
		return nil, false, transportErr("message metadata", err)
	}

	now := q.clock()
	return &leasequeue.Message{
		Lease: leasequeue.Lease{
			MessageID:  strconv.FormatUint(meta.Sequence.Stream, 10),
			PopReceipt: msg.Reply,
			ExpiresAt:  now.Add(visibilityTimeout),
		},
		Payload:      msg.Data,
		DequeueCount: int(meta.NumDelivered),
		EnqueuedAt:   meta.Timestamp.UTC(),
	}, true, nil
}

// Delete implements leasequeue.Queue.
func (q *LeaseQueue) Delete(ctx context.Context, lease leasequeue.Lease) error {
	if !lease.Valid(q.clock()) {
		return fmt.Errorf("%w: lease on %s expired at %s", leasequeue.ErrNotFound, lease.MessageID, lease.ExpiresAt.Format(time.RFC3339Nano))
	}
	if !strings.HasPrefix(lease.PopReceipt, ackSubjectPrefix) || !strings.Contains(lease.PopReceipt, "."+q.stream+".") {
		return fmt.Errorf("%w: pop receipt does not belong to %s", leasequeue.ErrNotFound, q.stream)
	}

	seq, err := strconv.ParseUint(lease.MessageID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: message id %q is not a stream sequence", leasequeue.ErrNotFound, lease.MessageID)
	}

	q.mu.Lock()
	again := q.released == lease.PopReceipt
	q.mu.Unlock()
	if again {
		return fmt.Errorf("%w: message %s already released", leasequeue.ErrNotFound, lease.MessageID)
	}

	// A publish that replaced the leased message makes the server terminate
	// the old delivery on its own, which moves the ack floor at some later
	// point. Only an unreplaced message at or below the floor is gone.
	replaced, err := q.replacedAfter(ctx, seq)
	if err != nil {
		return err
	}
	if !replaced {
		info, err := q.js.ConsumerInfo(q.stream, consumerName, nats.Context(ctx))
		switch {
		case errors.Is(err, nats.ErrConsumerNotFound), errors.Is(err, nats.ErrStreamNotFound):
			return fmt.Errorf("%w: no lease consumer on %s", leasequeue.ErrNotFound, q.stream)
		case err != nil:
			return transportErr("consumer info", err)
		case seq <= info.AckFloor.Stream:
			return fmt.Errorf("%w: message %s already released", leasequeue.ErrNotFound, lease.MessageID)
		}
	}

	if _, err := q.nc.RequestWithContext(ctx, lease.PopReceipt, []byte("+ACK")); err != nil {
		return transportErr("ack", err)
	}

	q.mu.Lock()
	q.released = lease.PopReceipt
	q.mu.Unlock()
	return nil
}

// replacedAfter reports whether the slot now holds a message newer than seq.
func (q *LeaseQueue) replacedAfter(ctx context.Context, seq uint64) (bool, error) {
	last, err := q.js.GetLastMsg(q.stream, q.subject, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrMsgNotFound), errors.Is(err, nats.ErrStreamNotFound):
		return false, nil
	case err != nil:
		return false, transportErr("last message", err)
	}
	return last.Sequence > seq, nil
}

// Enqueue implements leasequeue.Queue. It creates the stream if needed.
func (q *LeaseQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.ensureStream(ctx); err != nil {
		return err
	}
	if _, err := q.js.Publish(q.subject, payload, nats.Context(ctx)); err != nil {
		return transportErr("publish", err)
	}
	return nil
}

// Drop deletes the backing stream.
func (q *LeaseQueue) Drop(ctx context.Context) error {
	q.mu.Lock()
	if q.sub != nil {
		_ = q.sub.Unsubscribe()
		q.sub = nil
		q.ackWait = 0
	}
	q.mu.Unlock()

	if err := q.js.DeleteStream(q.stream, nats.Context(ctx)); err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return transportErr("delete stream", err)
	}
	return nil
}

// Close releases the pull subscription. The connection stays open.
func (q *LeaseQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sub == nil {
		return nil
	}
	err := q.sub.Unsubscribe()
	q.sub = nil
	return err
}

func (q *LeaseQueue) ensureStream(ctx context.Context) error {
	_, err := q.js.StreamInfo(q.stream, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return transportErr("stream info", err)
	}

	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:              q.stream,
		Description:       "lease queue " + q.name,
		Subjects:          []string{q.subject},
		Retention:         nats.WorkQueuePolicy,
		MaxMsgsPerSubject: 1,
		Discard:           nats.DiscardOld,
		Storage:           q.storage,
		Replicas:          q.replica,
	}, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return transportErr("add stream", err)
	}

	q.logger.InfoContext(ctx, "created lease queue stream", "queue", q.name, "stream", q.stream)
	return nil
}

// subscription returns the bound pull subscription, creating or updating
// the durable consumer when the visibility timeout changes.
func (q *LeaseQueue) subscription(ctx context.Context, ackWait time.Duration) (*nats.Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sub != nil && q.ackWait == ackWait {
		return q.sub, nil
	}

	config := &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxAckPending: 1,
		MaxDeliver:    -1,
		DeliverPolicy: nats.DeliverAllPolicy,
		FilterSubject: q.subject,
	}

	info, err := q.js.ConsumerInfo(q.stream, consumerName, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrConsumerNotFound):
		if _, err := q.js.AddConsumer(q.stream, config, nats.Context(ctx)); err != nil {
			return nil, transportErr("add consumer", err)
		}
	case err != nil:
		return nil, transportErr("consumer info", err)
	case info.Config.AckWait != ackWait:
		if _, err := q.js.UpdateConsumer(q.stream, config, nats.Context(ctx)); err != nil {
			return nil, transportErr("update consumer", err)
		}
	}

	if q.sub != nil {
		_ = q.sub.Unsubscribe()
	}
	sub, err := q.js.PullSubscribe(q.subject, consumerName, nats.Bind(q.stream, consumerName))
	if err != nil {
		return nil, transportErr("pull subscribe", err)
	}

	q.sub = sub
	q.ackWait = ackWait
	return sub, nil
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", leasequeue.ErrTransport, op, err)
}

var (
	_ leasequeue.Queue   = (*LeaseQueue)(nil)
	_ leasequeue.Dropper = (*LeaseQueue)(nil)
)

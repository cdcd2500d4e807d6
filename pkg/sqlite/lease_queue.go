package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/plaenen/liststate/pkg/leasequeue"
)

// LeaseQueue is a leasequeue.Queue stored in two tables: one row per queue
// and one row per message. The newest message of a queue is its slot.
//
// Dequeue claims the slot with a compare-and-set on visible_at inside a
// transaction, so concurrent processes sharing the file race safely.
type LeaseQueue struct {
	db     *sql.DB
	name   string
	clock  func() time.Time
	logger *slog.Logger
}

// QueueOption configures a LeaseQueue.
type QueueOption func(*LeaseQueue)

// WithClock sets the time source used for visibility and expiry.
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

// NewLeaseQueue returns the queue called name in db. The queue itself is
// created by the first Enqueue. db must already carry the schema (see Open).
func NewLeaseQueue(db *sql.DB, name string, opts ...QueueOption) (*LeaseQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	q := &LeaseQueue{
		db:     db,
		name:   name,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Name returns the queue name.
func (q *LeaseQueue) Name() string {
	return q.name
}

// Dequeue implements leasequeue.Queue.
func (q *LeaseQueue) Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*leasequeue.Message, bool, error) {
	if visibilityTimeout <= 0 {
		return nil, false, fmt.Errorf("visibility timeout must be greater than zero")
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, transportErr("begin dequeue", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM lease_queues WHERE name = ?`, q.name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, leasequeue.ErrQueueMissing
	}
	if err != nil {
		return nil, false, transportErr("lookup queue", err)
	}

	var (
		seq          int64
		id           string
		payload      []byte
		visibleAt    int64
		dequeueCount int
		enqueuedAt   int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, id, payload, visible_at, dequeue_count, enqueued_at
		FROM lease_queue_messages
		WHERE queue_name = ?
		ORDER BY seq DESC
		LIMIT 1
	`, q.name).Scan(&seq, &id, &payload, &visibleAt, &dequeueCount, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, transportErr("select slot", err)
	}

	now := q.clock()
	if visibleAt > now.UnixMilli() {
		return nil, false, nil
	}

	receipt := uuid.NewString()
	expiresAt := now.Add(visibilityTimeout)

	res, err := tx.ExecContext(ctx, `
		UPDATE lease_queue_messages
		SET pop_receipt = ?, visible_at = ?, dequeue_count = dequeue_count + 1
		WHERE seq = ? AND visible_at = ?
	`, receipt, expiresAt.UnixMilli(), seq, visibleAt)
	if err != nil {
		return nil, false, transportErr("claim slot", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, transportErr("claim slot", err)
	}
	if affected == 0 {
		// Another process claimed it between the select and the update.
		return nil, false, nil
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM lease_queue_messages WHERE queue_name = ? AND seq < ?`, q.name, seq)
	if err != nil {
		return nil, false, transportErr("purge superseded", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, transportErr("commit dequeue", err)
	}

	if purged, _ := res.RowsAffected(); purged > 0 {
		q.logger.DebugContext(ctx, "purged superseded checkpoint messages", "queue", q.name, "count", purged)
	}

	return &leasequeue.Message{
		Lease: leasequeue.Lease{
			MessageID:  id,
			PopReceipt: receipt,
			ExpiresAt:  time.UnixMilli(expiresAt.UnixMilli()).UTC(),
		},
		Payload:      payload,
		DequeueCount: dequeueCount + 1,
		EnqueuedAt:   time.UnixMilli(enqueuedAt).UTC(),
	}, true, nil
}

// Delete implements leasequeue.Queue.
func (q *LeaseQueue) Delete(ctx context.Context, lease leasequeue.Lease) error {
	if !lease.Valid(q.clock()) {
		return fmt.Errorf("%w: lease on %s expired at %s", leasequeue.ErrNotFound, lease.MessageID, lease.ExpiresAt.Format(time.RFC3339Nano))
	}

	res, err := q.db.ExecContext(ctx, `
		DELETE FROM lease_queue_messages
		WHERE queue_name = ? AND id = ? AND pop_receipt = ?
	`, q.name, lease.MessageID, lease.PopReceipt)
	if err != nil {
		return transportErr("delete message", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return transportErr("delete message", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", leasequeue.ErrNotFound, lease.MessageID)
	}
	return nil
}

// Enqueue implements leasequeue.Queue. It creates the queue if needed.
func (q *LeaseQueue) Enqueue(ctx context.Context, payload []byte) error {
	now := q.clock().UnixMilli()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return transportErr("begin enqueue", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO lease_queues (name, created_at) VALUES (?, ?)`, q.name, now); err != nil {
		return transportErr("create queue", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lease_queue_messages (id, queue_name, payload, visible_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), q.name, payload, now, now)
	if err != nil {
		return transportErr("insert message", err)
	}

	if err := tx.Commit(); err != nil {
		return transportErr("commit enqueue", err)
	}
	return nil
}

// Drop removes the queue and all of its messages.
func (q *LeaseQueue) Drop(ctx context.Context) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return transportErr("begin drop", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM lease_queue_messages WHERE queue_name = ?`, q.name); err != nil {
		return transportErr("drop messages", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM lease_queues WHERE name = ?`, q.name); err != nil {
		return transportErr("drop queue", err)
	}
	if err := tx.Commit(); err != nil {
		return transportErr("commit drop", err)
	}
	return nil
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", leasequeue.ErrTransport, op, err)
}

var (
	_ leasequeue.Queue   = (*LeaseQueue)(nil)
	_ leasequeue.Dropper = (*LeaseQueue)(nil)
)

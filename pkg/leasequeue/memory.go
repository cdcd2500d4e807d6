package leasequeue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plaenen/liststate/pkg/idgen"
)

// MemoryQueue is an in-process Queue. It is safe for concurrent use and is
// meant for tests and single-process deployments.
type MemoryQueue struct {
	mu       sync.Mutex
	exists   bool
	messages []*memoryMessage
	clock    func() time.Time
}

type memoryMessage struct {
	id           string
	payload      []byte
	popReceipt   string
	visibleAt    time.Time
	dequeueCount int
	enqueuedAt   time.Time
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithMemoryClock sets the time source used for visibility.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(q *MemoryQueue) {
		q.clock = clock
	}
}

// WithMemoryExisting creates the queue already present, as if a previous run
// had created it.
func WithMemoryExisting() MemoryOption {
	return func(q *MemoryQueue) {
		q.exists = true
	}
}

// NewMemoryQueue creates an in-memory queue. Unless WithMemoryExisting is
// given the queue starts missing and is created by the first Enqueue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{clock: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if visibilityTimeout <= 0 {
		return nil, false, fmt.Errorf("visibility timeout must be greater than zero")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.exists {
		return nil, false, ErrQueueMissing
	}
	if len(q.messages) == 0 {
		return nil, false, nil
	}

	now := q.clock()
	newest := q.messages[len(q.messages)-1]
	if newest.visibleAt.After(now) {
		return nil, false, nil
	}

	newest.popReceipt = idgen.NewSortableID(now)
	newest.visibleAt = now.Add(visibilityTimeout)
	newest.dequeueCount++

	// Older messages are superseded by the newest one.
	q.messages = []*memoryMessage{newest}

	return &Message{
		Lease: Lease{
			MessageID:  newest.id,
			PopReceipt: newest.popReceipt,
			ExpiresAt:  newest.visibleAt,
		},
		Payload:      append([]byte(nil), newest.payload...),
		DequeueCount: newest.dequeueCount,
		EnqueuedAt:   newest.enqueuedAt,
	}, true, nil
}

// Delete implements Queue.
func (q *MemoryQueue) Delete(ctx context.Context, lease Lease) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !lease.Valid(q.clock()) {
		return fmt.Errorf("%w: lease expired at %s", ErrNotFound, lease.ExpiresAt.Format(time.RFC3339Nano))
	}

	for i, msg := range q.messages {
		if msg.id != lease.MessageID {
			continue
		}
		if msg.popReceipt != lease.PopReceipt {
			return fmt.Errorf("%w: pop receipt mismatch for %s", ErrNotFound, lease.MessageID)
		}
		q.messages = append(q.messages[:i], q.messages[i+1:]...)
		return nil
	}

	return fmt.Errorf("%w: %s", ErrNotFound, lease.MessageID)
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	q.exists = true
	q.messages = append(q.messages, &memoryMessage{
		id:         idgen.NewSortableID(now),
		payload:    append([]byte(nil), payload...),
		visibleAt:  now,
		enqueuedAt: now,
	})

	return nil
}

// Drop implements Dropper.
func (q *MemoryQueue) Drop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.exists = false
	q.messages = nil
	return nil
}

// Len returns the number of stored messages, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

var (
	_ Queue   = (*MemoryQueue)(nil)
	_ Dropper = (*MemoryQueue)(nil)
)

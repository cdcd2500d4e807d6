// Package leasequeue defines the single-slot, visibility-timeout queue that
// backs the checkpoint store, and an in-memory implementation of it.
//
// Dequeuing a message hides it for the visibility timeout and hands back a
// Lease. The lease can release (delete) the message exactly once while it is
// still valid. If the holder never releases it, the message reappears when the
// lease expires.
package leasequeue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueMissing is returned by Dequeue when the backing resource has
	// never been created. It signals a true first run.
	ErrQueueMissing = errors.New("queue does not exist")

	// ErrNotFound is returned by Delete when the lease no longer refers to a
	// live message: it expired, was re-dequeued, or was already deleted.
	ErrNotFound = errors.New("message not found for lease")

	// ErrTransport wraps backend failures (network, driver, service errors).
	ErrTransport = errors.New("queue transport error")
)

// Lease is time-bounded ownership of the slot's current message.
type Lease struct {
	MessageID  string
	PopReceipt string
	ExpiresAt  time.Time
}

// Valid reports whether the lease is still held at now.
func (l Lease) Valid(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// Message is a dequeued payload together with the lease that hides it.
type Message struct {
	Lease        Lease
	Payload      []byte
	DequeueCount int
	EnqueuedAt   time.Time
}

// Queue is the capability consumed by the checkpoint store.
//
// Implementations treat the most recently enqueued message as the slot:
// Dequeue never returns a message older than the newest one, and reports
// empty while the newest one is hidden.
type Queue interface {
	// Dequeue hides the slot's message for visibilityTimeout. It returns
	// (nil, false, nil) when the slot exists but holds no visible message and
	// ErrQueueMissing when the slot was never created.
	Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*Message, bool, error)

	// Delete removes the message the lease refers to, or fails with ErrNotFound.
	Delete(ctx context.Context, lease Lease) error

	// Enqueue publishes a new message, creating the slot if needed.
	Enqueue(ctx context.Context, payload []byte) error
}

// Dropper is implemented by queues that can delete their backing resource.
// A dropped queue reports ErrQueueMissing until the next Enqueue.
type Dropper interface {
	Drop(ctx context.Context) error
}

package leasequeue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func TestMemoryQueue_Missing(t *testing.T) {
	q := NewMemoryQueue()

	_, _, err := q.Dequeue(context.Background(), time.Minute)
	assert.ErrorIs(t, err, ErrQueueMissing)

	require.NoError(t, q.Enqueue(context.Background(), []byte("state")))

	msg, ok, err := q.Dequeue(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("state"), msg.Payload)
}

func TestMemoryQueue_VisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	q := NewMemoryQueue(WithMemoryClock(clock.Now))
	require.NoError(t, q.Enqueue(ctx, []byte("v1")))

	msg, ok, err := q.Dequeue(ctx, 180*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(180*time.Second), msg.Lease.ExpiresAt)
	assert.Equal(t, 1, msg.DequeueCount)

	t.Run("hidden while leased", func(t *testing.T) {
		_, ok, err := q.Dequeue(ctx, 180*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reappears after expiry with a new receipt", func(t *testing.T) {
		clock.Advance(181 * time.Second)

		again, ok, err := q.Dequeue(ctx, 180*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, msg.Lease.MessageID, again.Lease.MessageID)
		assert.NotEqual(t, msg.Lease.PopReceipt, again.Lease.PopReceipt)
		assert.Equal(t, 2, again.DequeueCount)

		err = q.Delete(ctx, msg.Lease)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, q.Delete(ctx, again.Lease))
		assert.Equal(t, 0, q.Len())
	})
}

func TestMemoryQueue_Delete(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	q := NewMemoryQueue(WithMemoryClock(clock.Now))
	require.NoError(t, q.Enqueue(ctx, []byte("v1")))

	msg, ok, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("at most once", func(t *testing.T) {
		require.NoError(t, q.Delete(ctx, msg.Lease))
		assert.ErrorIs(t, q.Delete(ctx, msg.Lease), ErrNotFound)
	})

	t.Run("expired lease", func(t *testing.T) {
		require.NoError(t, q.Enqueue(ctx, []byte("v2")))
		leased, ok, err := q.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(time.Minute)
		assert.ErrorIs(t, q.Delete(ctx, leased.Lease), ErrNotFound)
	})
}

func TestMemoryQueue_Drop(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, []byte("v1")))

	require.NoError(t, q.Drop(ctx))
	assert.Equal(t, 0, q.Len())

	_, _, err := q.Dequeue(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrQueueMissing)

	// Dropping a missing queue is a no-op.
	require.NoError(t, q.Drop(ctx))

	require.NoError(t, q.Enqueue(ctx, []byte("v2")))
	msg, ok, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), msg.Payload)
}

func TestMemoryQueue_NewestMessageIsTheSlot(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	q := NewMemoryQueue(WithMemoryClock(clock.Now))

	require.NoError(t, q.Enqueue(ctx, []byte("old")))
	old, ok, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Second)
	require.NoError(t, q.Enqueue(ctx, []byte("new")))

	// The old lease expires before it is released; the old message must not
	// shadow the newer one.
	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, q.Delete(ctx, old.Lease), ErrNotFound)

	msg, ok, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), msg.Payload)
	assert.Equal(t, 1, q.Len())

	_, ok, err = q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "older message must not be handed out while the newest is leased")
}

func TestMemoryQueue_ConcurrentDequeue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, []byte("state")))

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := q.Dequeue(ctx, time.Minute)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestMemoryQueue_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewMemoryQueue(WithMemoryExisting())

	_, _, err := q.Dequeue(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, q.Enqueue(ctx, nil), ErrTransport)
}

func TestLease_Valid(t *testing.T) {
	now := time.Now()
	lease := Lease{ExpiresAt: now.Add(time.Second)}

	assert.True(t, lease.Valid(now))
	assert.False(t, lease.Valid(now.Add(time.Second)))
}

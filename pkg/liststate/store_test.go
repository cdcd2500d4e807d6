package liststate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/plaenen/liststate/pkg/checkpoint"
	"github.com/plaenen/liststate/pkg/leasequeue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStreams = []string{"Audit.Exchange", "Audit.SharePoint", "DLP.All"}

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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, q leasequeue.Queue, clock *fakeClock) *Store {
	t.Helper()
	s, err := New(q, testStreams,
		WithClock(clock.Now),
		WithLogger(discardLogger()),
		WithVisibilityTimeout(180*time.Second),
	)
	require.NoError(t, err)
	return s
}

// failingQueue lets tests inject backend failures per operation.
type failingQueue struct {
	*leasequeue.MemoryQueue
	dequeueErr error
	deleteErr  error
	enqueueErr error
}

func (q *failingQueue) Dequeue(ctx context.Context, vt time.Duration) (*leasequeue.Message, bool, error) {
	if q.dequeueErr != nil {
		return nil, false, q.dequeueErr
	}
	return q.MemoryQueue.Dequeue(ctx, vt)
}

func (q *failingQueue) Delete(ctx context.Context, lease leasequeue.Lease) error {
	if q.deleteErr != nil {
		return q.deleteErr
	}
	return q.MemoryQueue.Delete(ctx, lease)
}

func (q *failingQueue) Enqueue(ctx context.Context, payload []byte) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	return q.MemoryQueue.Enqueue(ctx, payload)
}

func TestNew_Validation(t *testing.T) {
	q := leasequeue.NewMemoryQueue()

	_, err := New(q, nil)
	assert.ErrorIs(t, err, ErrNoStreams)

	_, err = New(q, []string{"Audit.Exchange", "Audit.Exchange"})
	assert.ErrorIs(t, err, checkpoint.ErrDuplicateStream)

	_, err = New(q, testStreams, WithVisibilityTimeout(0))
	assert.Error(t, err)

	_, err = New(nil, testStreams)
	assert.Error(t, err)
}

func TestAcquire_BootstrapOnMissingQueue(t *testing.T) {
	clock := newClock()
	q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	s := newTestStore(t, q, clock)
	ctx := context.Background()

	set, lease, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Nil(t, lease)
	require.Len(t, set, len(testStreams))
	for i, cp := range set {
		assert.Equal(t, testStreams[i], cp.StreamName)
		assert.True(t, cp.LastCollectedTs.Equal(clock.Now()))
	}

	// Bootstrap again before any commit: still no slot, still a fresh set.
	_, lease, err = s.Acquire(ctx)
	require.NoError(t, err)
	assert.Nil(t, lease)

	require.NoError(t, s.Commit(ctx, set, nil))
	assert.Equal(t, 1, q.Len())

	stored, lease, err := s.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.True(t, set.Equal(stored))
}

func TestAcquire_MutualExclusion(t *testing.T) {
	clock := newClock()
	q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	a := newTestStore(t, q, clock)
	b := newTestStore(t, q, clock)
	ctx := context.Background()

	require.NoError(t, a.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), nil))

	_, leaseA, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, leaseA)

	clock.Advance(179 * time.Second)
	_, leaseB, err := b.Acquire(ctx)
	assert.Equal(t, ErrSingletonViolation, err)
	assert.Nil(t, leaseB)
}

func TestAcquire_ConcurrentInstancesSingleWinner(t *testing.T) {
	clock := newClock()
	q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	seed := newTestStore(t, q, clock)
	require.NoError(t, seed.Commit(context.Background(), checkpoint.NewBootstrapSet(testStreams, clock.Now()), nil))

	const instances = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		winners    int
		violations int
	)
	stores := make([]*Store, instances)
	for i := range stores {
		stores[i] = newTestStore(t, q, clock)
	}
	for _, s := range stores {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			_, _, err := s.Acquire(context.Background())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrSingletonViolation):
				violations++
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, instances-1, violations)
}

func TestAcquire_LeaseSelfHeals(t *testing.T) {
	clock := newClock()
	q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	crashed := newTestStore(t, q, clock)
	next := newTestStore(t, q, clock)
	ctx := context.Background()

	initial := checkpoint.NewBootstrapSet(testStreams, clock.Now())
	require.NoError(t, crashed.Commit(ctx, initial, nil))

	_, _, err := crashed.Acquire(ctx)
	require.NoError(t, err)

	// The holder never commits; after the visibility timeout the state reappears.
	clock.Advance(181 * time.Second)
	set, lease, err := next.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.True(t, initial.Equal(set))
}

func TestCommit_PublishesThenReleases(t *testing.T) {
	clock := newClock()
	q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	s := newTestStore(t, q, clock)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), nil))

	_, lease, err := s.Acquire(ctx)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	next := checkpoint.NewBootstrapSet(testStreams, clock.Now())
	require.NoError(t, s.Commit(ctx, next, lease))
	assert.Equal(t, 1, q.Len())

	// The freshly committed message is immediately visible.
	got, _, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, next.Equal(got))
}

func TestCommit_ToleratesStaleRelease(t *testing.T) {
	clock := newClock()
	q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	slow := newTestStore(t, q, clock)
	fast := newTestStore(t, q, clock)
	ctx := context.Background()

	require.NoError(t, slow.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), nil))

	_, slowLease, err := slow.Acquire(ctx)
	require.NoError(t, err)

	clock.Advance(200 * time.Second)
	_, fastLease, err := fast.Acquire(ctx)
	require.NoError(t, err)

	slowSet := checkpoint.NewBootstrapSet(testStreams, clock.Now())
	assert.NoError(t, slow.Commit(ctx, slowSet, slowLease))

	clock.Advance(time.Second)
	fastSet := checkpoint.NewBootstrapSet(testStreams, clock.Now())
	require.NoError(t, fast.Commit(ctx, fastSet, fastLease))

	// The newest committed set is the slot.
	got, _, err := fast.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, fastSet.Equal(got))
}

func TestAcquire_CodecErrorIsNotBootstrap(t *testing.T) {
	clock := newClock()
	q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	s := newTestStore(t, q, clock)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, []byte("this is not base64!")))

	set, lease, err := s.Acquire(ctx)
	assert.ErrorIs(t, err, checkpoint.ErrCodec)
	assert.Nil(t, set)
	assert.Nil(t, lease)
}

func TestAcquire_TransportErrorPropagates(t *testing.T) {
	clock := newClock()
	q := &failingQueue{
		MemoryQueue: leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now)),
		dequeueErr:  leasequeue.ErrTransport,
	}
	s := newTestStore(t, q, clock)

	_, _, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, leasequeue.ErrTransport)
	assert.NotErrorIs(t, err, ErrSingletonViolation)
}

func TestCommit_EnqueueFailureKeepsLease(t *testing.T) {
	clock := newClock()
	mem := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	q := &failingQueue{MemoryQueue: mem}
	s := newTestStore(t, q, clock)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), nil))
	_, lease, err := s.Acquire(ctx)
	require.NoError(t, err)

	q.enqueueErr = leasequeue.ErrTransport
	err = s.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), lease)
	assert.ErrorIs(t, err, leasequeue.ErrTransport)

	// The old message was not released; it is still held by the lease.
	assert.Equal(t, 1, mem.Len())
	_, _, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, ErrSingletonViolation)
}

func TestCommit_ReleaseFailure(t *testing.T) {
	clock := newClock()
	mem := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	q := &failingQueue{MemoryQueue: mem}
	s := newTestStore(t, q, clock)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), nil))
	_, lease, err := s.Acquire(ctx)
	require.NoError(t, err)

	q.deleteErr = leasequeue.ErrTransport
	err = s.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), lease)
	assert.ErrorIs(t, err, ErrReleaseFailed)
	assert.ErrorIs(t, err, leasequeue.ErrTransport)
}

func TestCommit_RejectsInvalidSet(t *testing.T) {
	clock := newClock()
	q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
	s := newTestStore(t, q, clock)

	bad := checkpoint.Set{
		{StreamName: "DLP.All", LastCollectedTs: clock.Now()},
		{StreamName: "DLP.All", LastCollectedTs: clock.Now()},
	}
	err := s.Commit(context.Background(), bad, nil)
	assert.ErrorIs(t, err, checkpoint.ErrDuplicateStream)
	assert.Equal(t, 0, q.Len())
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("drops a committed slot", func(t *testing.T) {
		clock := newClock()
		q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
		s := newTestStore(t, q, clock)
		require.NoError(t, s.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), nil))

		dropped, err := s.Reset(ctx)
		require.NoError(t, err)
		assert.True(t, dropped)
		assert.Equal(t, 0, q.Len())

		clock.Advance(time.Hour)
		set, lease, err := s.Acquire(ctx)
		require.NoError(t, err)
		assert.Nil(t, lease)
		assert.True(t, set[0].LastCollectedTs.Equal(clock.Now()))
	})

	t.Run("missing slot", func(t *testing.T) {
		clock := newClock()
		s := newTestStore(t, leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now)), clock)

		dropped, err := s.Reset(ctx)
		require.NoError(t, err)
		assert.False(t, dropped)
	})

	t.Run("unreadable slot", func(t *testing.T) {
		clock := newClock()
		q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
		s := newTestStore(t, q, clock)
		require.NoError(t, q.Enqueue(ctx, []byte("this is not base64!")))

		dropped, err := s.Reset(ctx)
		require.NoError(t, err)
		assert.True(t, dropped)
	})

	t.Run("lease held elsewhere", func(t *testing.T) {
		clock := newClock()
		q := leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))
		holder := newTestStore(t, q, clock)
		s := newTestStore(t, q, clock)
		require.NoError(t, holder.Commit(ctx, checkpoint.NewBootstrapSet(testStreams, clock.Now()), nil))
		_, lease, err := holder.Acquire(ctx)
		require.NoError(t, err)
		require.NotNil(t, lease)

		dropped, err := s.Reset(ctx)
		assert.ErrorIs(t, err, ErrSingletonViolation)
		assert.False(t, dropped)
		assert.Equal(t, 1, q.Len())
	})

	t.Run("backend without drop", func(t *testing.T) {
		clock := newClock()
		q := struct{ leasequeue.Queue }{leasequeue.NewMemoryQueue(leasequeue.WithMemoryClock(clock.Now))}
		s := newTestStore(t, q, clock)

		_, err := s.Reset(ctx)
		assert.ErrorIs(t, err, ErrResetUnsupported)
	})
}

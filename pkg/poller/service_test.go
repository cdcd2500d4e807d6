package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plaenen/liststate/pkg/checkpoint"
	"github.com/plaenen/liststate/pkg/leasequeue"
	"github.com/plaenen/liststate/pkg/liststate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRealStore(t *testing.T, q leasequeue.Queue) *liststate.Store {
	t.Helper()
	store, err := liststate.New(q, testStreams, liststate.WithLogger(discard()))
	require.NoError(t, err)
	return store
}

func TestService_RunsOnInterval(t *testing.T) {
	q := leasequeue.NewMemoryQueue()
	var passes atomic.Int32
	collector := CollectorFunc(func(ctx context.Context, w checkpoint.ListWindow) (checkpoint.CollectionResult, error) {
		if w.StreamName == testStreams[0] {
			passes.Add(1)
		}
		return checkpoint.CollectionResult{StreamName: w.StreamName}, nil
	})

	svc := NewService(New(newRealStore(t, q), collector, WithLogger(discard())),
		WithInterval(10*time.Millisecond),
		WithServiceLogger(discard()),
	)
	assert.Equal(t, "poller", svc.Name())

	require.NoError(t, svc.Start(context.Background()))
	require.Eventually(t, func() bool { return passes.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	assert.GreaterOrEqual(t, q.Len(), 1)
	assert.Error(t, svc.Start(context.Background()), "a stopped service is not restarted")
}

func TestService_SkipsWhenLeaseHeld(t *testing.T) {
	q := leasequeue.NewMemoryQueue()
	store := newRealStore(t, q)
	require.NoError(t, store.Commit(context.Background(), checkpoint.NewBootstrapSet(testStreams, time.Now()), nil))
	_, _, err := store.Acquire(context.Background())
	require.NoError(t, err)

	var calls atomic.Int32
	collector := CollectorFunc(func(ctx context.Context, w checkpoint.ListWindow) (checkpoint.CollectionResult, error) {
		calls.Add(1)
		return checkpoint.CollectionResult{StreamName: w.StreamName}, nil
	})
	svc := NewService(New(store, collector, WithLogger(discard())),
		WithInterval(5*time.Millisecond),
		WithServiceLogger(discard()),
	)

	require.NoError(t, svc.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	assert.Zero(t, calls.Load())
	select {
	case err := <-svc.Failed():
		t.Fatalf("lease contention must not fail the service: %v", err)
	default:
	}
}

func TestService_UnreadableCheckpointFails(t *testing.T) {
	q := leasequeue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(context.Background(), []byte("%%% not a checkpoint")))

	svc := NewService(New(newRealStore(t, q), DryRunCollector{Logger: discard()}, WithLogger(discard())),
		WithInterval(5*time.Millisecond),
		WithServiceLogger(discard()),
	)
	require.NoError(t, svc.Start(context.Background()))

	select {
	case err := <-svc.Failed():
		assert.ErrorIs(t, err, checkpoint.ErrCodec)
	case <-time.After(5 * time.Second):
		t.Fatal("expected the service to fail")
	}
	require.NoError(t, svc.Stop(context.Background()))
}

func TestService_RejectsZeroInterval(t *testing.T) {
	svc := NewService(New(newRealStore(t, leasequeue.NewMemoryQueue()), DryRunCollector{}), WithInterval(0))
	assert.Error(t, svc.Start(context.Background()))
}

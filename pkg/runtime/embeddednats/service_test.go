package embeddednats

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/plaenen/liststate/pkg/nats"
	"github.com/plaenen/liststate/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	return New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNATSOptions(nats.WithStoreDir(t.TempDir())),
	)
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	service := newService(t)

	assert.Empty(t, service.URL())
	assert.Error(t, service.HealthCheck(ctx))

	require.NoError(t, service.Start(ctx))
	url := service.URL()
	assert.NotEmpty(t, url)
	assert.NoError(t, service.HealthCheck(ctx))

	// Starting again keeps the same server.
	require.NoError(t, service.Start(ctx))
	assert.Equal(t, url, service.URL())

	require.NoError(t, service.Stop(ctx))
	assert.Error(t, service.HealthCheck(ctx))
}

func TestService_StopBeforeStart(t *testing.T) {
	assert.NoError(t, newService(t).Stop(context.Background()))
}

func TestService_WithRunner(t *testing.T) {
	service := newService(t)
	r := runner.New([]runner.Service{service})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return r.HealthCheck(context.Background()) == nil
	}, defaultWait, pollInterval)

	cancel()
	require.NoError(t, <-done)
}

const (
	defaultWait  = 5 * time.Second
	pollInterval = 20 * time.Millisecond
)

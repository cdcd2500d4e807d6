package nats

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedServer_StartAndShutdown(t *testing.T) {
	srv, err := StartEmbeddedServer(WithStoreDir(t.TempDir()))
	require.NoError(t, err)

	assert.NotEmpty(t, srv.URL())
	assert.True(t, srv.Running())

	nc, err := ConnectToEmbedded(srv)
	require.NoError(t, err)
	nc.Close()

	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.False(t, srv.Running())
}

func TestEmbeddedServer_ShutdownIsIdempotent(t *testing.T) {
	srv, err := StartEmbeddedServer(WithStoreDir(t.TempDir()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.Shutdown()
		}()
	}
	wg.Wait()
	srv.Shutdown()
}

func TestEmbeddedServer_AuthToken(t *testing.T) {
	srv, err := StartEmbeddedServer(WithStoreDir(t.TempDir()), WithAuthToken("s3cret"))
	require.NoError(t, err)
	defer srv.Shutdown()

	_, err = ConnectToEmbedded(srv)
	assert.Error(t, err)

	nc, err := ConnectToEmbedded(srv, nats.Token("s3cret"))
	require.NoError(t, err)
	nc.Close()
}

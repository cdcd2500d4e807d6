package nats

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EmbeddedServer wraps an in-process NATS server with JetStream enabled.
type EmbeddedServer struct {
	server       *server.Server
	url          string
	shutdownOnce sync.Once
}

type embeddedConfig struct {
	host         string
	port         int
	storeDir     string
	debug        bool
	readyTimeout time.Duration
	token        string
}

// Option configures an embedded server.
type Option func(*embeddedConfig)

// WithHost sets the listen host. Default is 127.0.0.1.
func WithHost(host string) Option {
	return func(c *embeddedConfig) {
		c.host = host
	}
}

// WithPort sets the client port. -1 picks a random free port.
func WithPort(port int) Option {
	return func(c *embeddedConfig) {
		c.port = port
	}
}

// WithStoreDir sets the JetStream storage directory. Empty uses a temp dir.
func WithStoreDir(dir string) Option {
	return func(c *embeddedConfig) {
		c.storeDir = dir
	}
}

// WithDebug enables server debug and trace logging to stderr.
func WithDebug(enabled bool) Option {
	return func(c *embeddedConfig) {
		c.debug = enabled
	}
}

// WithReadyTimeout bounds how long StartEmbeddedServer waits for the listener.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *embeddedConfig) {
		c.readyTimeout = d
	}
}

// WithAuthToken requires clients to present token.
func WithAuthToken(token string) Option {
	return func(c *embeddedConfig) {
		c.token = token
	}
}

// StartEmbeddedServer starts an embedded NATS server with JetStream enabled.
func StartEmbeddedServer(opts ...Option) (*EmbeddedServer, error) {
	config := embeddedConfig{
		host:         "127.0.0.1",
		port:         -1,
		readyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}

	serverOpts := &server.Options{
		Host:          config.host,
		Port:          config.port,
		JetStream:     true,
		StoreDir:      config.storeDir,
		Authorization: config.token,
		Debug:         config.debug,
		Trace:         config.debug,
		NoLog:         !config.debug,
	}

	s, err := server.NewServer(serverOpts)
	if err != nil {
		return nil, fmt.Errorf("create embedded server: %w", err)
	}
	if config.debug {
		s.ConfigureLogger()
	}

	go s.Start()

	if !s.ReadyForConnections(config.readyTimeout) {
		s.Shutdown()
		return nil, fmt.Errorf("embedded server not ready after %s", config.readyTimeout)
	}

	return &EmbeddedServer{
		server: s,
		url:    s.ClientURL(),
	}, nil
}

// URL returns the client connection URL.
func (e *EmbeddedServer) URL() string {
	return e.url
}

// Running reports whether the server still accepts connections.
func (e *EmbeddedServer) Running() bool {
	return e.server != nil && e.server.Running()
}

// Shutdown stops the server. Safe to call more than once.
func (e *EmbeddedServer) Shutdown() {
	e.shutdownOnce.Do(func() {
		if e.server == nil {
			return
		}
		e.server.Shutdown()

		done := make(chan struct{})
		go func() {
			e.server.WaitForShutdown()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
}

// ConnectToEmbedded opens a client connection to srv.
func ConnectToEmbedded(srv *EmbeddedServer, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(srv.URL(), opts...)
}

// Package embeddednats runs an in-process NATS server as a runner.Service,
// for single-node deployments that use the NATS lease queue backend.
package embeddednats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/plaenen/liststate/pkg/nats"
	"github.com/plaenen/liststate/pkg/observability"
	"github.com/plaenen/liststate/pkg/runner"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Service wraps an embedded NATS server.
type Service struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	natsOptions []nats.Option

	mu     sync.Mutex
	server *nats.EmbeddedServer
}

// Option configures the NATS service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer for the service.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithNATSOptions sets the server options passed to nats.StartEmbeddedServer.
//
//	service := embeddednats.New(
//	    embeddednats.WithNATSOptions(
//	        nats.WithPort(4222),
//	        nats.WithStoreDir("/var/lib/liststate/nats"),
//	    ),
//	)
func WithNATSOptions(opts ...nats.Option) Option {
	return func(s *Service) {
		s.natsOptions = opts
	}
}

// New creates an embedded NATS service.
func New(opts ...Option) *Service {
	s := &Service{
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("embeddednats"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements runner.Service.
func (s *Service) Name() string {
	return "embedded-nats"
}

// Start starts the server. Calling Start on a running service is a no-op,
// so callers may start it early to learn the URL and still hand it to a Runner.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "embeddednats.Start")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil && s.server.Running() {
		return nil
	}

	s.logger.InfoContext(ctx, "starting embedded NATS server")

	srv, err := nats.StartEmbeddedServer(s.natsOptions...)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return fmt.Errorf("start embedded NATS: %w", err)
	}
	s.server = srv

	span.SetAttributes(attribute.String("nats.url", srv.URL()))
	s.logger.InfoContext(ctx, "embedded NATS server started", "url", srv.URL())
	return nil
}

// Stop shuts the server down.
func (s *Service) Stop(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "embeddednats.Stop")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		s.server.Shutdown()
		s.logger.InfoContext(ctx, "embedded NATS server stopped")
	}
	return nil
}

// HealthCheck connects to the server to verify it responds.
func (s *Service) HealthCheck(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "embeddednats.HealthCheck")
	defer span.End()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil || !srv.Running() {
		err := fmt.Errorf("nats server not running")
		observability.SetSpanError(ctx, err)
		return err
	}

	nc, err := nats.ConnectToEmbedded(srv)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return fmt.Errorf("nats server not responsive: %w", err)
	}
	nc.Close()

	span.SetAttributes(attribute.Bool("healthy", true))
	return nil
}

// URL returns the client URL, or "" before Start.
func (s *Service) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return ""
	}
	return s.server.URL()
}

var (
	_ runner.Service       = (*Service)(nil)
	_ runner.HealthChecker = (*Service)(nil)
)

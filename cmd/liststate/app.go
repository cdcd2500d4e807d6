package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/plaenen/liststate/pkg/config"
	"github.com/plaenen/liststate/pkg/credentials"
	"github.com/plaenen/liststate/pkg/leasequeue"
	"github.com/plaenen/liststate/pkg/liststate"
	natsqueue "github.com/plaenen/liststate/pkg/nats"
	"github.com/plaenen/liststate/pkg/observability"
	"github.com/plaenen/liststate/pkg/runtime/embeddednats"
	"github.com/plaenen/liststate/pkg/sqlite"
)

type globalFlags struct {
	backend  string
	queue    string
	logLevel string
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if flags.backend != "" {
		cfg.Backend = config.Backend(strings.ToLower(flags.backend))
	}
	if flags.queue != "" {
		cfg.QueueName = flags.queue
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app holds the wired components for one command invocation.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	telemetry *observability.Telemetry
	store     *liststate.Store

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logw io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg, logger: newLogger(cfg, logw)}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.telemetry, err = observability.Init(ctx, observability.Config{
		ServiceName:     "liststate",
		ServiceVersion:  version,
		OTLPEndpoint:    cfg.OTLPEndpoint,
		OTLPInsecure:    cfg.OTLPInsecure,
		TraceSampleRate: cfg.TraceSampleRate,
		Prometheus:      cfg.MetricsAddr != "",
		Logger:          a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	queue, err := a.openQueue(ctx)
	if err != nil {
		return nil, err
	}

	a.store, err = liststate.New(queue, cfg.Streams,
		liststate.WithQueueName(cfg.QueueName),
		liststate.WithVisibilityTimeout(cfg.VisibilityTimeout),
		liststate.WithCallTimeout(cfg.QueueTimeout),
		liststate.WithLogger(a.logger),
		liststate.WithTracer(a.telemetry.Tracer("liststate")),
		liststate.WithMetrics(a.telemetry.Metrics),
	)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("checkpoint store ready",
		"backend", cfg.Backend,
		"queue", cfg.QueueName,
		"streams", strings.Join(cfg.Streams, ","))
	return a, nil
}

func (a *app) openQueue(ctx context.Context) (leasequeue.Queue, error) {
	switch a.cfg.Backend {
	case config.BackendMemory:
		a.logger.Warn("memory backend holds checkpoints for this process only")
		return leasequeue.NewMemoryQueue(), nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, sqlite.WithDSN(a.cfg.SQLiteDSN))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return sqlite.NewLeaseQueue(db, a.cfg.QueueName, sqlite.WithLogger(a.logger))

	case config.BackendNATS:
		return a.openNATSQueue(ctx)
	}
	return nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
}

func (a *app) openNATSQueue(ctx context.Context) (leasequeue.Queue, error) {
	conn := natsqueue.DefaultConnConfig()
	conn.URL = a.cfg.NATSURL
	conn.Logger = a.logger

	if a.cfg.NATSEmbedded {
		var serverOpts []natsqueue.Option
		if a.cfg.NATSStoreDir != "" {
			serverOpts = append(serverOpts, natsqueue.WithStoreDir(a.cfg.NATSStoreDir))
		}
		svc := embeddednats.New(
			embeddednats.WithLogger(a.logger),
			embeddednats.WithTracer(a.telemetry.Tracer("embeddednats")),
			embeddednats.WithNATSOptions(serverOpts...),
		)
		if err := svc.Start(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return svc.Stop(context.Background()) })
		conn.URL = svc.URL()
	}

	if a.cfg.HasCredentials() {
		provider, err := credentials.NewSealedFileProvider(ctx, a.cfg.CredentialsKeeperURL, a.cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, provider.Close)
		conn.Credentials = provider
	}

	nc, err := natsqueue.Connect(ctx, conn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		nc.Close()
		return nil
	})

	q, err := natsqueue.NewLeaseQueue(nc, a.cfg.QueueName, natsqueue.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, q.Close)
	return q, nil
}

// Close releases backend resources in reverse order, then flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

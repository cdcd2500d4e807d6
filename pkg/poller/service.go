package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plaenen/liststate/pkg/checkpoint"
	"github.com/plaenen/liststate/pkg/liststate"
	"github.com/plaenen/liststate/pkg/runner"
)

// DefaultInterval is the pause between passes.
const DefaultInterval = 5 * time.Minute

// Service runs Poller passes on a fixed interval as a runner.Service.
//
// A pass that loses the lease race is skipped. Transport and collector
// errors are logged and retried on the next tick. An unreadable stored
// checkpoint is reported through Failed since no later pass can succeed.
type Service struct {
	poller   *Poller
	interval time.Duration
	logger   *slog.Logger

	failed chan error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithInterval sets the pause between passes.
func WithInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.interval = d
	}
}

// WithServiceLogger sets the logger for the service loop.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService wraps poller.
func NewService(poller *Poller, opts ...ServiceOption) *Service {
	s := &Service{
		poller:   poller,
		interval: DefaultInterval,
		logger:   slog.Default(),
		failed:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements runner.Service.
func (s *Service) Name() string {
	return "poller"
}

// Start runs the first pass immediately and then one per interval. The loop
// outlives ctx; it stops on Stop.
func (s *Service) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("poll interval must be greater than zero")
	}
	if s.done != nil {
		return fmt.Errorf("poller already started")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if s.runOnce(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce reports whether the loop must stop.
func (s *Service) runOnce(ctx context.Context) bool {
	_, err := s.poller.Run(ctx)
	switch {
	case err == nil:
		return false
	case ctx.Err() != nil:
		return true
	case errors.Is(err, liststate.ErrSingletonViolation):
		s.logger.InfoContext(ctx, "another instance holds the checkpoint lease, skipping pass")
		return false
	case errors.Is(err, checkpoint.ErrCodec):
		s.logger.ErrorContext(ctx, "stored checkpoint is unreadable, stopping poller", "error", err)
		s.fail(err)
		return true
	default:
		s.logger.ErrorContext(ctx, "collection pass failed, retrying next interval",
			"error", err,
			"interval", s.interval)
		return false
	}
}

func (s *Service) fail(err error) {
	s.once.Do(func() {
		s.failed <- err
		close(s.failed)
	})
}

// Failed implements runner.Failer.
func (s *Service) Failed() <-chan error {
	return s.failed
}

// Stop cancels the loop and waits for the running pass to return.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for poller: %w", ctx.Err())
	}
}

var _ runner.Failer = (*Service)(nil)

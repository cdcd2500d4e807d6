package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/plaenen/liststate/pkg/checkpoint"
)

// Middleware wraps a Collector.
type Middleware func(next Collector) Collector

// Chain applies middlewares so that the first one is outermost.
func Chain(collector Collector, middlewares ...Middleware) Collector {
	for i := len(middlewares) - 1; i >= 0; i-- {
		collector = middlewares[i](collector)
	}
	return collector
}

// Recovery turns a collector panic into an error, so the pass aborts
// without committing instead of taking the process down with the lease held.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Collector) Collector {
		return CollectorFunc(func(ctx context.Context, window checkpoint.ListWindow) (res checkpoint.CollectionResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "collector panicked",
						slog.String("stream", window.StreamName),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)
					res = checkpoint.CollectionResult{}
					err = fmt.Errorf("collector panicked on %s: %v", window.StreamName, r)
				}
			}()

			return next.Collect(ctx, window)
		})
	}
}

// Logging logs each window collection with its duration.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Collector) Collector {
		return CollectorFunc(func(ctx context.Context, window checkpoint.ListWindow) (checkpoint.CollectionResult, error) {
			start := time.Now()

			res, err := next.Collect(ctx, window)
			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "collection failed",
					slog.String("stream", window.StreamName),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.String("error", err.Error()),
				)
				return res, err
			}

			logger.DebugContext(ctx, "collected window",
				slog.String("stream", window.StreamName),
				slog.Int("contents", len(res.Contents)),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)
			return res, nil
		})
	}
}

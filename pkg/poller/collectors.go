package poller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/plaenen/liststate/pkg/checkpoint"
)

// DryRunCollector lists nothing and logs each window it would collect.
// Passes still take and release the lease and re-commit the checkpoint.
type DryRunCollector struct {
	Logger *slog.Logger
}

// Collect implements Collector.
func (c DryRunCollector) Collect(ctx context.Context, window checkpoint.ListWindow) (checkpoint.CollectionResult, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{
		"stream", window.StreamName,
		"list_start_ts", checkpoint.FormatTimestamp(window.ListStartTs),
	}
	if window.HasEnd() {
		attrs = append(attrs, "list_end_ts", checkpoint.FormatTimestamp(window.ListEndTs))
	}
	logger.InfoContext(ctx, "dry run: would list window", attrs...)

	return checkpoint.CollectionResult{StreamName: window.StreamName, Window: window}, nil
}

// StaticCollector serves preloaded content per stream, filtered to each
// window. Content outside the window is not returned.
type StaticCollector struct {
	mu       sync.Mutex
	contents map[string][]checkpoint.Content
}

// NewStaticCollector returns a collector with no content.
func NewStaticCollector() *StaticCollector {
	return &StaticCollector{contents: make(map[string][]checkpoint.Content)}
}

// Add appends content blobs for stream, in creation order.
func (c *StaticCollector) Add(stream string, contents ...checkpoint.Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contents[stream] = append(c.contents[stream], contents...)
}

// Collect implements Collector.
func (c *StaticCollector) Collect(ctx context.Context, window checkpoint.ListWindow) (checkpoint.CollectionResult, error) {
	if err := ctx.Err(); err != nil {
		return checkpoint.CollectionResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []checkpoint.Content
	for _, content := range c.contents[window.StreamName] {
		if content.ContentCreated.Before(window.ListStartTs) {
			continue
		}
		if window.HasEnd() && content.ContentCreated.After(window.ListEndTs) {
			continue
		}
		matched = append(matched, content)
	}

	return checkpoint.CollectionResult{
		StreamName: window.StreamName,
		Window:     window,
		Contents:   matched,
	}, nil
}

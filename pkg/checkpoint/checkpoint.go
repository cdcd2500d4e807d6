// Package checkpoint holds the collection progress model for independently
// polled content streams: the persisted checkpoint set, the codec that turns it
// into a queue payload, the window planner and the aggregator that folds a
// finished collection pass back into a new checkpoint set.
package checkpoint

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCodec is returned when a persisted payload cannot be decoded.
	// It indicates corruption or an incompatible format change and must never
	// be replaced by a bootstrap state.
	ErrCodec = errors.New("checkpoint codec error")

	// ErrDuplicateStream is returned when a set or a result list names the
	// same stream twice.
	ErrDuplicateStream = errors.New("duplicate stream")

	// ErrEmptyStreamName is returned for checkpoints or windows without a stream name.
	ErrEmptyStreamName = errors.New("stream name is required")
)

// StreamCheckpoint is the last confirmed collection position for one stream.
type StreamCheckpoint struct {
	StreamName      string
	LastCollectedTs time.Time
}

// Set is the whole persisted payload: one checkpoint per stream, in order.
// A run always produces a full replacement set.
type Set []StreamCheckpoint

// NewBootstrapSet returns a set with one entry per stream, all positioned at now.
func NewBootstrapSet(streams []string, now time.Time) Set {
	ts := Truncate(now)
	set := make(Set, 0, len(streams))
	for _, stream := range streams {
		set = append(set, StreamCheckpoint{
			StreamName:      stream,
			LastCollectedTs: ts,
		})
	}
	return set
}

// Lookup returns the checkpoint stored for stream.
func (s Set) Lookup(stream string) (StreamCheckpoint, bool) {
	for _, cp := range s {
		if cp.StreamName == stream {
			return cp, true
		}
	}
	return StreamCheckpoint{}, false
}

// Streams returns the stream names in set order.
func (s Set) Streams() []string {
	names := make([]string, 0, len(s))
	for _, cp := range s {
		names = append(names, cp.StreamName)
	}
	return names
}

// Validate checks that every entry is named and that names are unique.
func (s Set) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for i, cp := range s {
		if cp.StreamName == "" {
			return fmt.Errorf("entry %d: %w", i, ErrEmptyStreamName)
		}
		if _, ok := seen[cp.StreamName]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateStream, cp.StreamName)
		}
		seen[cp.StreamName] = struct{}{}
	}
	return nil
}

// Equal reports whether both sets carry the same checkpoints in the same order.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i].StreamName != other[i].StreamName || !s[i].LastCollectedTs.Equal(other[i].LastCollectedTs) {
			return false
		}
	}
	return true
}

// ListWindow is the time range a collector should list for one stream.
// ListEndTs is zero until the collector bounds the window.
type ListWindow struct {
	StreamName  string
	ListStartTs time.Time
	ListEndTs   time.Time
}

// HasEnd reports whether the collector bounded the window.
func (w ListWindow) HasEnd() bool {
	return !w.ListEndTs.IsZero()
}

// WithEnd returns a copy of the window bounded at end.
func (w ListWindow) WithEnd(end time.Time) ListWindow {
	w.ListEndTs = Truncate(end)
	return w
}

// Content is one listed content item. Only ContentCreated drives checkpoints;
// the other fields are carried for the collector.
type Content struct {
	ContentID      string
	ContentType    string
	ContentURI     string
	ContentCreated time.Time
}

// CollectionResult is what the collector reports back for one planned window.
// Contents are ordered oldest to newest.
type CollectionResult struct {
	StreamName string
	Window     ListWindow
	Contents   []Content
}

// Truncate normalises a timestamp to the persisted precision: UTC, milliseconds.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

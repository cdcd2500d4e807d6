package checkpoint

import (
	"fmt"
	"strings"
	"time"
)

// EmptyWindowPolicy decides the checkpoint of a stream whose window listed no content.
type EmptyWindowPolicy int

const (
	// CarryForwardStart keeps the window start, so the next run lists the
	// same range again.
	CarryForwardStart EmptyWindowPolicy = iota

	// AdvanceToEnd moves the checkpoint to the window end when the collector
	// bounded the window, and behaves like CarryForwardStart otherwise.
	AdvanceToEnd
)

// String returns the configuration name of the policy.
func (p EmptyWindowPolicy) String() string {
	switch p {
	case AdvanceToEnd:
		return "advance-end"
	default:
		return "carry-start"
	}
}

// ParseEmptyWindowPolicy maps a configuration name to a policy.
func ParseEmptyWindowPolicy(name string) (EmptyWindowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "carry-start":
		return CarryForwardStart, nil
	case "advance-end":
		return AdvanceToEnd, nil
	default:
		return CarryForwardStart, fmt.Errorf("unknown empty window policy %q", name)
	}
}

// Aggregator folds collection results into a new checkpoint set.
type Aggregator struct {
	emptyPolicy EmptyWindowPolicy
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithEmptyWindowPolicy overrides how empty windows are checkpointed.
func WithEmptyWindowPolicy(policy EmptyWindowPolicy) AggregatorOption {
	return func(a *Aggregator) {
		a.emptyPolicy = policy
	}
}

// NewAggregator creates an aggregator. The default empty-window policy is CarryForwardStart.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{emptyPolicy: CarryForwardStart}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate builds the replacement set, one entry per result in input order.
//
// Non-empty results advance to the ContentCreated of the last item; the list
// is trusted to be ordered oldest to newest and is not sorted here.
func (a *Aggregator) Aggregate(results []CollectionResult) (Set, error) {
	set := make(Set, 0, len(results))
	seen := make(map[string]struct{}, len(results))

	for _, res := range results {
		if res.StreamName == "" {
			return nil, ErrEmptyStreamName
		}
		if _, ok := seen[res.StreamName]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, res.StreamName)
		}
		seen[res.StreamName] = struct{}{}

		set = append(set, StreamCheckpoint{
			StreamName:      res.StreamName,
			LastCollectedTs: a.lastCollected(res),
		})
	}

	return set, nil
}

func (a *Aggregator) lastCollected(res CollectionResult) time.Time {
	if n := len(res.Contents); n > 0 {
		return Truncate(res.Contents[n-1].ContentCreated)
	}
	if a.emptyPolicy == AdvanceToEnd && res.Window.HasEnd() {
		return Truncate(res.Window.ListEndTs)
	}
	return Truncate(res.Window.ListStartTs)
}

// Aggregate folds results with the default policy.
func Aggregate(results []CollectionResult) (Set, error) {
	return NewAggregator().Aggregate(results)
}

// Package idgen generates identifiers for queue messages and pop receipts.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewSortableID returns a ULID whose lexical order follows the time it was made.
func NewSortableID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// MustGenerateSortableID returns a sortable ID stamped with the current time.
func MustGenerateSortableID() string {
	return NewSortableID(time.Now())
}

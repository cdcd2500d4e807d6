package idgen

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSortableID(t *testing.T) {
	now := time.Now()

	a := NewSortableID(now)
	b := NewSortableID(now)

	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)

	parsed, err := ulid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(now), parsed.Time())
}

func TestMustGenerateSortableID(t *testing.T) {
	assert.Len(t, MustGenerateSortableID(), 26)
}

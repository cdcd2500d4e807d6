package checkpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := ParseTimestamp(s)
	require.NoError(t, err)
	return ts
}

func TestNewBootstrapSet(t *testing.T) {
	now := time.Date(2018, 1, 26, 14, 19, 0, 94_500_000, time.UTC)

	set := NewBootstrapSet([]string{"A", "B"}, now)

	require.Len(t, set, 2)
	assert.Equal(t, []string{"A", "B"}, set.Streams())
	for _, cp := range set {
		assert.True(t, cp.LastCollectedTs.Equal(now.Truncate(time.Millisecond)))
	}
	assert.NoError(t, set.Validate())
}

func TestSet_Validate(t *testing.T) {
	now := time.Now()

	t.Run("duplicate names", func(t *testing.T) {
		set := Set{{StreamName: "A", LastCollectedTs: now}, {StreamName: "A", LastCollectedTs: now}}
		assert.ErrorIs(t, set.Validate(), ErrDuplicateStream)
	})

	t.Run("empty name", func(t *testing.T) {
		set := Set{{StreamName: "", LastCollectedTs: now}}
		assert.ErrorIs(t, set.Validate(), ErrEmptyStreamName)
	})

	t.Run("empty set is valid", func(t *testing.T) {
		assert.NoError(t, Set{}.Validate())
	})
}

func TestCodec_EncodeDecode(t *testing.T) {
	set := Set{
		{StreamName: "Audit.General", LastCollectedTs: mustParse(t, "2018-01-26T14:19:00.094Z")},
		{StreamName: "Audit.Exchange", LastCollectedTs: mustParse(t, "2018-01-26T14:20:11.500Z")},
	}

	t.Run("base64 text payload", func(t *testing.T) {
		codec := NewCodec()

		payload, err := codec.Encode(set)
		require.NoError(t, err)
		assert.NotContains(t, string(payload), "streamName")

		decoded, err := codec.Decode(payload)
		require.NoError(t, err)
		assert.True(t, set.Equal(decoded))
	})

	t.Run("raw json payload", func(t *testing.T) {
		codec := NewCodec(WithRawJSON())

		payload, err := codec.Encode(set)
		require.NoError(t, err)
		assert.JSONEq(t, `[
			{"streamName":"Audit.General","lastCollectedTs":"2018-01-26T14:19:00.094Z"},
			{"streamName":"Audit.Exchange","lastCollectedTs":"2018-01-26T14:20:11.500Z"}
		]`, string(payload))
	})

	t.Run("accepts second precision timestamps", func(t *testing.T) {
		codec := NewCodec(WithRawJSON())

		decoded, err := codec.Decode([]byte(`[{"streamName":"A","lastCollectedTs":"2018-01-26T14:19:00+00:00"}]`))
		require.NoError(t, err)
		require.Len(t, decoded, 1)
		assert.Equal(t, "2018-01-26T14:19:00.000Z", FormatTimestamp(decoded[0].LastCollectedTs))
	})

	t.Run("empty list decodes to empty set", func(t *testing.T) {
		codec := NewCodec(WithRawJSON())

		decoded, err := codec.Decode([]byte(`[]`))
		require.NoError(t, err)
		assert.Empty(t, decoded)
	})
}

func TestCodec_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		codec   *Codec
		payload string
	}{
		{"invalid base64", NewCodec(), "%%%not-base64"},
		{"not json", NewCodec(WithRawJSON()), "hello"},
		{"json null", NewCodec(WithRawJSON()), "null"},
		{"json object", NewCodec(WithRawJSON()), `{"streamName":"A"}`},
		{"bad timestamp", NewCodec(WithRawJSON()), `[{"streamName":"A","lastCollectedTs":"yesterday"}]`},
		{"missing name", NewCodec(WithRawJSON()), `[{"lastCollectedTs":"2018-01-26T14:19:00Z"}]`},
		{"duplicate", NewCodec(WithRawJSON()), `[{"streamName":"A","lastCollectedTs":"2018-01-26T14:19:00Z"},{"streamName":"A","lastCollectedTs":"2018-01-26T14:19:00Z"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCodec), "expected ErrCodec, got %v", err)
		})
	}
}

func TestCodec_EncodeRejectsInvalidSet(t *testing.T) {
	_, err := NewCodec().Encode(Set{{StreamName: "A"}, {StreamName: "A"}})
	assert.ErrorIs(t, err, ErrCodec)
	assert.ErrorIs(t, err, ErrDuplicateStream)

	_, err = NewCodec().Encode(Set{{StreamName: ""}})
	assert.ErrorIs(t, err, ErrCodec)
	assert.ErrorIs(t, err, ErrEmptyStreamName)
}

func TestCodec_DecodeKeepsValidationCause(t *testing.T) {
	codec := NewCodec(WithRawJSON())

	_, err := codec.Decode([]byte(`[{"streamName":"A","lastCollectedTs":"2018-01-26T14:19:00Z"},{"streamName":"A","lastCollectedTs":"2018-01-26T14:19:00Z"}]`))
	assert.ErrorIs(t, err, ErrCodec)
	assert.ErrorIs(t, err, ErrDuplicateStream)

	_, err = codec.Decode([]byte(`[{"lastCollectedTs":"2018-01-26T14:19:00Z"}]`))
	assert.ErrorIs(t, err, ErrCodec)
	assert.ErrorIs(t, err, ErrEmptyStreamName)
}

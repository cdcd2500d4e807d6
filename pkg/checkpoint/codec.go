package checkpoint

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the persisted timestamp form: UTC, millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// wireCheckpoint is the JSON shape stored in the queue message.
type wireCheckpoint struct {
	StreamName      string `json:"streamName"`
	LastCollectedTs string `json:"lastCollectedTs"`
}

// Codec converts a Set to and from a queue message payload.
//
// The default payload is base64 text wrapping a JSON array, which is what text
// queue services expect. WithRawJSON drops the base64 layer.
type Codec struct {
	base64 bool
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithRawJSON stores the JSON array without the base64 text layer.
func WithRawJSON() CodecOption {
	return func(c *Codec) {
		c.base64 = false
	}
}

// NewCodec creates a codec with the given options.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{base64: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode serialises the set.
func (c *Codec) Encode(set Set) ([]byte, error) {
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}

	wire := make([]wireCheckpoint, 0, len(set))
	for _, cp := range set {
		wire = append(wire, wireCheckpoint{
			StreamName:      cp.StreamName,
			LastCollectedTs: FormatTimestamp(cp.LastCollectedTs),
		})
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrCodec, err)
	}

	if !c.base64 {
		return data, nil
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)
	return out, nil
}

// Decode parses a payload produced by Encode. Any malformed input yields an
// error wrapping ErrCodec.
func (c *Codec) Decode(payload []byte) (Set, error) {
	data := bytes.TrimSpace(payload)
	if c.base64 {
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(decoded, data)
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrCodec, err)
		}
		data = decoded[:n]
	}

	var wire []wireCheckpoint
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrCodec, err)
	}
	if wire == nil {
		return nil, fmt.Errorf("%w: payload is not a checkpoint list", ErrCodec)
	}

	set := make(Set, 0, len(wire))
	for i, w := range wire {
		ts, err := ParseTimestamp(w.LastCollectedTs)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d (%s): %v", ErrCodec, i, w.StreamName, err)
		}
		set = append(set, StreamCheckpoint{
			StreamName:      w.StreamName,
			LastCollectedTs: ts,
		})
	}

	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}

	return set, nil
}

// FormatTimestamp renders t in the persisted form.
func FormatTimestamp(t time.Time) string {
	return Truncate(t).Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 timestamp, with or without fractional
// seconds, and normalises it to UTC milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return Truncate(t), nil
}

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/henriblancke/dagster/internal/ir"
)

// marshalTags converts run tags to canonical JSON TEXT for storage.
func marshalTags(tags map[string]string) (string, error) {
	if tags == nil {
		tags = map[string]string{}
	}
	data, err := ir.MarshalCanonical(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

// unmarshalTags parses tags TEXT. Empty objects decode to nil.
func unmarshalTags(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tags, nil
}

// marshalErrorInfo converts an error descriptor to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so messages stay readable.
// Returns a NULL-able value: nil info is stored as NULL.
func marshalErrorInfo(info *ir.ErrorInfo) (any, error) {
	if info == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(info); err != nil {
		return nil, fmt.Errorf("marshal error info: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalErrorInfo parses a NULL-able error column.
func unmarshalErrorInfo(data *string) (*ir.ErrorInfo, error) {
	if data == nil || *data == "" {
		return nil, nil
	}
	var info ir.ErrorInfo
	if err := json.Unmarshal([]byte(*data), &info); err != nil {
		return nil, fmt.Errorf("unmarshal error info: %w", err)
	}
	return &info, nil
}

// toNanos stores t as UTC unix nanoseconds.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// fromNanos restores a stored timestamp in UTC.
func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

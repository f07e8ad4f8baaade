package cursor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/henriblancke/dagster/internal/ir"
)

// ClassName is the format tag written by Encode.
const ClassName = "RunStatusSensorCursor"

// legacyAliases maps retired format tags to the tag they decode as.
var legacyAliases = map[string]string{
	"PipelineSensorCursor": ClassName,
}

// TimestampLayout is the layout of UpdateTimestamp.
const TimestampLayout = time.RFC3339Nano

// naiveTimestampLayout is the offset-less layout of legacy writers. Such
// timestamps are read as UTC.
const naiveTimestampLayout = "2006-01-02T15:04:05.999999999"

// Cursor is the persisted resume position of one sensor.
//
// INVARIANT: for a given sensor, consecutively persisted cursors are
// non-decreasing in RecordID.
type Cursor struct {
	RecordID        int64
	UpdateTimestamp string
}

// New builds a cursor for the event with the given storage id. The timestamp
// is normalized to UTC.
func New(recordID int64, updated time.Time) Cursor {
	return Cursor{
		RecordID:        recordID,
		UpdateTimestamp: updated.UTC().Format(TimestampLayout),
	}
}

// String renders the cursor for skip messages and logs.
func (c Cursor) String() string {
	return fmt.Sprintf("%s(record_id=%d, update_timestamp=%s)", ClassName, c.RecordID, c.UpdateTimestamp)
}

// UpdatedAt parses UpdateTimestamp. A timestamp without a UTC offset is
// taken as UTC.
func (c Cursor) UpdatedAt() (time.Time, error) {
	t, err := time.Parse(TimestampLayout, c.UpdateTimestamp)
	if err == nil {
		return t, nil
	}
	if naive, nerr := time.ParseInLocation(naiveTimestampLayout, c.UpdateTimestamp, time.UTC); nerr == nil {
		return naive, nil
	}
	return time.Time{}, err
}

// DecodeError reports a cursor string that cannot be decoded.
type DecodeError struct {
	Input  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode cursor: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode cursor: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes c to its canonical string form.
func Encode(c Cursor) string {
	data, err := ir.MarshalCanonical(map[string]any{
		"__class__":        ClassName,
		"record_id":        c.RecordID,
		"update_timestamp": c.UpdateTimestamp,
	})
	if err != nil {
		// Only strings and int64 are marshalled; canonical JSON cannot fail.
		panic(fmt.Sprintf("cursor: encode: %v", err))
	}
	return string(data)
}

// wireCursor mirrors the JSON layout. Pointer fields detect missing keys.
type wireCursor struct {
	Class           *string `json:"__class__"`
	RecordID        *int64  `json:"record_id"`
	UpdateTimestamp *string `json:"update_timestamp"`
}

// Decode parses a cursor string produced by Encode or by a legacy writer.
// Returns a *DecodeError for malformed input.
func Decode(s string) (Cursor, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()

	var w wireCursor
	if err := dec.Decode(&w); err != nil {
		return Cursor{}, &DecodeError{Input: s, Reason: "invalid JSON", Err: err}
	}
	if dec.More() {
		return Cursor{}, &DecodeError{Input: s, Reason: "trailing data after cursor"}
	}

	if w.Class == nil {
		return Cursor{}, &DecodeError{Input: s, Reason: "missing __class__"}
	}
	class := *w.Class
	if alias, ok := legacyAliases[class]; ok {
		class = alias
	}
	if class != ClassName {
		return Cursor{}, &DecodeError{Input: s, Reason: fmt.Sprintf("unknown class %q", *w.Class)}
	}

	if w.RecordID == nil {
		return Cursor{}, &DecodeError{Input: s, Reason: "missing record_id"}
	}
	if w.UpdateTimestamp == nil {
		return Cursor{}, &DecodeError{Input: s, Reason: "missing update_timestamp"}
	}

	c := Cursor{RecordID: *w.RecordID, UpdateTimestamp: *w.UpdateTimestamp}
	if _, err := c.UpdatedAt(); err != nil {
		return Cursor{}, &DecodeError{Input: s, Reason: "invalid update_timestamp", Err: err}
	}
	return c, nil
}

// IsValid reports whether s decodes to a cursor. It never panics.
func IsValid(s string) bool {
	_, err := Decode(s)
	return err == nil
}

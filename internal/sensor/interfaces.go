package sensor

import (
	"context"
	"time"

	"github.com/henriblancke/dagster/internal/ir"
)

// EventReader reads windows of the append-only event log.
type EventReader interface {
	// EventRecords returns the events selected by filter, ordered by ID in
	// the requested direction.
	EventRecords(ctx context.Context, filter ir.EventFilter) ([]ir.Event, error)

	// LatestEventID returns the ID of the newest event of type t. The bool
	// is false when the log holds no such event.
	LatestEventID(ctx context.Context, t ir.EventType) (int64, bool, error)
}

// RunReader looks up run records.
type RunReader interface {
	// Run returns the run with the given id, or an error wrapping
	// ir.ErrRunNotFound.
	Run(ctx context.Context, runID string) (ir.RunRecord, error)
}

// CursorStore persists one opaque cursor string per sensor name.
type CursorStore interface {
	// Cursor returns the stored cursor. The bool is false when none exists.
	Cursor(ctx context.Context, sensorName string) (string, bool, error)

	// PutCursor replaces the stored cursor.
	PutCursor(ctx context.Context, sensorName, cursor string) error
}

// Instance is the view of the stores handed to user reactions through
// Context.Instance.
type Instance interface {
	EventReader
	RunReader
}

// Clock supplies wall-clock time. Tests replace it with a fixed clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the real wall clock.
var SystemClock Clock = ClockFunc(time.Now)

type instance struct {
	EventReader
	RunReader
}

package ir

import (
	"fmt"
	"time"
)

// EventType identifies the kind of a lifecycle event in the event log.
type EventType string

const (
	EventTypeRunEnqueued  EventType = "RUN_ENQUEUED"
	EventTypeRunStarting  EventType = "RUN_STARTING"
	EventTypeRunStart     EventType = "RUN_START"
	EventTypeRunSuccess   EventType = "RUN_SUCCESS"
	EventTypeRunFailure   EventType = "RUN_FAILURE"
	EventTypeRunCanceling EventType = "RUN_CANCELING"
	EventTypeRunCanceled  EventType = "RUN_CANCELED"

	// EventTypeEngineEvent is an informational event written by the engine
	// itself (for example when a sensor reacted to a run). It never maps to a
	// run status and is therefore never monitored by a sensor.
	EventTypeEngineEvent EventType = "ENGINE_EVENT"
)

// statusEventTypes maps each monitorable run status to the event type that is
// appended when a run transitions into it.
var statusEventTypes = map[RunStatus]EventType{
	RunStatusQueued:    EventTypeRunEnqueued,
	RunStatusStarting:  EventTypeRunStarting,
	RunStatusStarted:   EventTypeRunStart,
	RunStatusSuccess:   EventTypeRunSuccess,
	RunStatusFailure:   EventTypeRunFailure,
	RunStatusCanceling: EventTypeRunCanceling,
	RunStatusCanceled:  EventTypeRunCanceled,
}

// EventTypeForStatus returns the event type emitted for a run status.
// Returns an error for statuses that have no lifecycle event (e.g. NOT_STARTED).
func EventTypeForStatus(status RunStatus) (EventType, error) {
	et, ok := statusEventTypes[status]
	if !ok {
		return "", fmt.Errorf("run status %q has no lifecycle event type", status)
	}
	return et, nil
}

// Event is an immutable entry of the append-only event log.
//
// ID is the storage id assigned by the event store. IDs are strictly
// increasing in append order and define the total order of the log.
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	JobName   string    `json:"job_name"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter selects a window of the event log.
//
// AfterID is exclusive: only events with ID > AfterID are returned. A
// negative AfterID selects from the beginning of the log.
type EventFilter struct {
	Type      EventType
	AfterID   int64
	Ascending bool
	Limit     int
}

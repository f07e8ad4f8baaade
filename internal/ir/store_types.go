package ir

import "time"

// NOTE: These are store-layer records written by the tick driver, not inputs
// of the evaluation core.

// SensorStatus is the externally toggled run state of a sensor.
type SensorStatus string

const (
	SensorStatusRunning SensorStatus = "RUNNING"
	SensorStatusStopped SensorStatus = "STOPPED"
)

// TickStatus summarizes the outcome of one tick.
type TickStatus string

const (
	// TickStatusSkipped means the tick emitted nothing or only skip reasons.
	TickStatusSkipped TickStatus = "SKIPPED"
	// TickStatusSuccess means the tick emitted run requests or reactions.
	TickStatusSuccess TickStatus = "SUCCESS"
	// TickStatusFailure means the evaluator or the tick itself failed.
	TickStatusFailure TickStatus = "FAILURE"
)

// TickRecord is the durable history entry for one tick of one sensor.
type TickRecord struct {
	ID         int64      `json:"id"` // Auto-increment (store)
	TickID     string     `json:"tick_id"`
	SensorName string     `json:"sensor_name"`
	Status     TickStatus `json:"status"`
	Cursor     string     `json:"cursor,omitempty"`
	SkipReason string     `json:"skip_reason,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	Outputs    string     `json:"outputs"` // JSON array of tick outputs
	Timestamp  time.Time  `json:"timestamp"`
}

package harness

import "github.com/henriblancke/dagster/internal/sensor"

// Trace entry types.
const (
	StepEmit    = "emit"
	StepTick    = "tick"
	StepAdvance = "advance"
)

// TraceEvent is one executed scenario step. Only the fields of its Type are
// set.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`
	Time string `json:"time"`

	// emit
	RunID     string `json:"run_id,omitempty"`
	RunStatus string `json:"run_status,omitempty"`
	EventType string `json:"event_type,omitempty"`
	RecordID  int64  `json:"record_id,omitempty"`

	// tick
	TickID         string                `json:"tick_id,omitempty"`
	Status         string                `json:"status,omitempty"`
	State          string                `json:"state,omitempty"`
	Inspected      int                   `json:"inspected,omitempty"`
	CursorRecordID *int64                `json:"cursor_record_id,omitempty"`
	SkipReason     string                `json:"skip_reason,omitempty"`
	Error          string                `json:"error,omitempty"`
	Causes         []string              `json:"causes,omitempty"`
	Outputs        []sensor.OutputRecord `json:"outputs,omitempty"`
}

// Fields returns the entry as a map of plain values. Assertions match
// against it and golden traces serialize it.
func (e TraceEvent) Fields() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"type": e.Type,
		"time": e.Time,
	}
	switch e.Type {
	case StepEmit:
		m["run_id"] = e.RunID
		m["run_status"] = e.RunStatus
		m["event_type"] = e.EventType
		m["record_id"] = e.RecordID
	case StepTick:
		m["tick_id"] = e.TickID
		m["status"] = e.Status
		m["inspected"] = int64(e.Inspected)
		if e.State != "" {
			m["state"] = e.State
		}
		if e.CursorRecordID != nil {
			m["cursor_record_id"] = *e.CursorRecordID
		}
		if e.SkipReason != "" {
			m["skip_reason"] = e.SkipReason
		}
		if e.Error != "" {
			m["error"] = e.Error
		}
		if len(e.Causes) > 0 {
			causes := make([]any, len(e.Causes))
			for i, c := range e.Causes {
				causes[i] = c
			}
			m["causes"] = causes
		}
		outputs := make([]any, len(e.Outputs))
		for i, o := range e.Outputs {
			outputs[i] = outputFields(o)
		}
		m["outputs"] = outputs
	}
	return m
}

func outputFields(o sensor.OutputRecord) map[string]any {
	m := map[string]any{"kind": string(o.Kind)}
	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	set("run_key", o.RunKey)
	set("job_name", o.JobName)
	set("message", o.Message)
	set("run_id", o.RunID)
	set("status", string(o.Status))
	if o.Error != nil {
		m["error"] = o.Error.Message
	}
	if len(o.Tags) > 0 {
		m["tags"] = o.Tags
	}
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every tick expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Cursor is the sensor's stored cursor after the last step.
	Cursor string `json:"cursor,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// add appends a trace entry and assigns its sequence number.
func (r *Result) add(e TraceEvent) TraceEvent {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
	return e
}

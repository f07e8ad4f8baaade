package sensor

import (
	"encoding/json"
	"fmt"

	"github.com/henriblancke/dagster/internal/ir"
)

// OutputKind tags the variants of Output.
type OutputKind string

const (
	OutputRunRequest  OutputKind = "RUN_REQUEST"
	OutputSkipReason  OutputKind = "SKIP_REASON"
	OutputRunReaction OutputKind = "RUN_REACTION"
)

// Output is one signal emitted by a tick. It is a closed set: RunRequest,
// SkipReason and RunReaction.
type Output interface {
	Kind() OutputKind
	isOutput()
}

// RunRequest asks the driver to launch a job.
type RunRequest struct {
	RunKey    string            `json:"run_key,omitempty"`
	JobName   string            `json:"job_name,omitempty"`
	RunConfig map[string]any    `json:"run_config,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// SkipReason explains why a tick did nothing.
type SkipReason struct {
	Message string `json:"message"`
}

// RunReaction records that the sensor processed a run status event. Error is
// set when the reaction failed.
type RunReaction struct {
	Run    ir.RunRecord  `json:"run"`
	Status ir.RunStatus  `json:"status"`
	Error  *ir.ErrorInfo `json:"error,omitempty"`
}

func (RunRequest) Kind() OutputKind  { return OutputRunRequest }
func (SkipReason) Kind() OutputKind  { return OutputSkipReason }
func (RunReaction) Kind() OutputKind { return OutputRunReaction }

func (RunRequest) isOutput()  {}
func (SkipReason) isOutput()  {}
func (RunReaction) isOutput() {}

// Skip is shorthand for a reaction result holding a single SkipReason.
func Skip(format string, args ...any) ([]Output, error) {
	return []Output{SkipReason{Message: fmt.Sprintf(format, args...)}}, nil
}

// OutputRecord is the flat JSON form of an Output used in tick history, CLI
// output and the HTTP API.
type OutputRecord struct {
	Kind OutputKind `json:"kind"`

	// RUN_REQUEST
	RunKey    string            `json:"run_key,omitempty"`
	JobName   string            `json:"job_name,omitempty"`
	RunConfig map[string]any    `json:"run_config,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`

	// SKIP_REASON
	Message string `json:"message,omitempty"`

	// RUN_REACTION
	RunID  string        `json:"run_id,omitempty"`
	Status ir.RunStatus  `json:"status,omitempty"`
	Error  *ir.ErrorInfo `json:"error,omitempty"`
}

// Record flattens o into an OutputRecord.
func Record(o Output) OutputRecord {
	switch o := o.(type) {
	case RunRequest:
		return OutputRecord{
			Kind:      OutputRunRequest,
			RunKey:    o.RunKey,
			JobName:   o.JobName,
			RunConfig: o.RunConfig,
			Tags:      o.Tags,
		}
	case SkipReason:
		return OutputRecord{Kind: OutputSkipReason, Message: o.Message}
	case RunReaction:
		return OutputRecord{
			Kind:    OutputRunReaction,
			RunID:   o.Run.RunID,
			JobName: o.Run.JobName,
			Status:  o.Status,
			Error:   o.Error,
		}
	default:
		return OutputRecord{}
	}
}

// Records flattens outputs. The result is never nil.
func Records(outputs []Output) []OutputRecord {
	records := make([]OutputRecord, 0, len(outputs))
	for _, o := range outputs {
		records = append(records, Record(o))
	}
	return records
}

// MarshalOutputs encodes outputs as a JSON array of OutputRecord.
func MarshalOutputs(outputs []Output) (string, error) {
	data, err := json.Marshal(Records(outputs))
	if err != nil {
		return "", fmt.Errorf("marshal outputs: %w", err)
	}
	return string(data), nil
}

package ir

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned by run lookups when no run exists for an id.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "NOT_STARTED"
	RunStatusQueued     RunStatus = "QUEUED"
	RunStatusStarting   RunStatus = "STARTING"
	RunStatusStarted    RunStatus = "STARTED"
	RunStatusSuccess    RunStatus = "SUCCESS"
	RunStatusFailure    RunStatus = "FAILURE"
	RunStatusCanceling  RunStatus = "CANCELING"
	RunStatusCanceled   RunStatus = "CANCELED"
)

// RepositoryOrigin identifies where a job was defined: a code location and a
// repository inside it.
type RepositoryOrigin struct {
	Location   string `json:"location"`
	Repository string `json:"repository"`
}

// RunRecord is the run store's view of a single run.
type RunRecord struct {
	RunID   string    `json:"run_id"`
	JobName string    `json:"job_name"`
	Status  RunStatus `json:"status"`

	// Origin is nil for runs launched outside any repository (for example
	// executed manually in-process).
	Origin *RepositoryOrigin `json:"origin,omitempty"`

	Tags            map[string]string `json:"tags,omitempty"`
	CreateTimestamp time.Time         `json:"create_timestamp"`
	UpdateTimestamp time.Time         `json:"update_timestamp"`
}

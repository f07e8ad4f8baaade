package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henriblancke/dagster/internal/daemon"
	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/sensor"
	"github.com/henriblancke/dagster/internal/testutil"
)

const testConfig = `
database: %s
location: analytics
repository: warehouse
sensors:
  - name: on_failure
    run_status: FAILURE
    default_status: RUNNING
    minimum_interval_seconds: 1
    reaction: {action: log}
  - name: rerun
    run_status: CANCELED
    request_jobs: [cleanup]
    reaction: {action: request_job}
  - name: broken
    run_status: FAILURE
    reaction: {action: fail, message: "boom {run_id}"}
`

type cliFixture struct {
	t          *testing.T
	configPath string
	clock      *testutil.FakeClock
	ids        *testutil.SequentialIDs
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sensord.yaml")
	cfg := fmt.Sprintf(testConfig, filepath.Join(dir, "sensord.db"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &cliFixture{
		t:          t,
		configPath: path,
		clock:      testutil.NewFakeClock(time.Time{}),
		ids:        testutil.NewSequentialIDs("tick"),
	}
}

// run executes the CLI against the fixture's config and returns stdout.
func (f *cliFixture) run(args ...string) (string, error) {
	f.t.Helper()
	cmd := newRootCommand(&RootOptions{Clock: f.clock, IDs: f.ids})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", f.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// runJSON executes the CLI with --format json and decodes the response data
// into data.
func (f *cliFixture) runJSON(data any, args ...string) error {
	f.t.Helper()
	out, err := f.run(append([]string{"--format", "json"}, args...)...)
	resp := struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}{}
	require.NoError(f.t, json.Unmarshal([]byte(out), &resp), out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(f.t, json.Unmarshal(resp.Data, data), out)
	}
	return err
}

func TestEmitAndTick(t *testing.T) {
	f := newCLIFixture(t)

	var res daemon.Result
	require.NoError(t, f.runJSON(&res, "tick", "on_failure"))
	assert.Equal(t, "tick-0001", res.TickID)
	assert.Equal(t, ir.TickStatusSkipped, res.Status)
	assert.Equal(t, sensor.StateBootstrapping, res.State)

	var ev ir.Event
	require.NoError(t, f.runJSON(&ev, "emit", "run-1", "STARTED", "--job", "nightly_etl"))
	assert.Equal(t, ir.EventTypeRunStart, ev.Type)
	require.NoError(t, f.runJSON(&ev, "emit", "run-1", "failure"))
	assert.Equal(t, ir.EventTypeRunFailure, ev.Type)
	assert.Equal(t, "nightly_etl", ev.JobName)

	require.NoError(t, f.runJSON(&res, "tick", "on_failure"))
	assert.Equal(t, ir.TickStatusSuccess, res.Status)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, sensor.OutputRunReaction, res.Outputs[0].Kind)
	assert.Equal(t, "run-1", res.Outputs[0].RunID)

	var ticks []ir.TickRecord
	require.NoError(t, f.runJSON(&ticks, "ticks", "on_failure"))
	require.Len(t, ticks, 2)
	assert.Equal(t, "tick-0002", ticks[0].TickID)
	assert.Equal(t, "tick-0001", ticks[1].TickID)

	out, err := f.run("ticks", "on_failure", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "tick-0002  SUCCESS")
	assert.NotContains(t, out, "tick-0001")
}

func TestTick_TextOutput(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("tick", "on_failure")
	require.NoError(t, err)
	assert.Contains(t, out, "on_failure tick-0001: SKIPPED (BOOTSTRAPPING)")
	assert.Contains(t, out, "skip: Initiating on_failure.")
	assert.Contains(t, out, "cursor: ")
}

func TestTick_FailedReaction(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("tick", "broken")
	require.NoError(t, err)
	_, err = f.run("emit", "run-2", "FAILURE", "--job", "nightly_etl")
	require.NoError(t, err)

	out, err := f.run("tick", "broken")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "broken tick-0002: FAILURE")
	assert.Contains(t, out, "boom run-2")
}

func TestTick_RequestJob(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("tick", "rerun")
	require.NoError(t, err)
	_, err = f.run("emit", "run-3", "CANCELED", "--job", "nightly_etl")
	require.NoError(t, err)

	var res daemon.Result
	require.NoError(t, f.runJSON(&res, "tick", "rerun"))
	assert.Equal(t, ir.TickStatusSuccess, res.Status)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, sensor.OutputRunRequest, res.Outputs[0].Kind)
	assert.Equal(t, "cleanup", res.Outputs[0].JobName)
	assert.Equal(t, "run-3", res.Outputs[0].RunKey)
}

func TestTick_OtherRepositoryIgnored(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("tick", "on_failure")
	require.NoError(t, err)
	_, err = f.run("emit", "run-4", "FAILURE", "--job", "etl", "--repository", "elsewhere")
	require.NoError(t, err)

	var res daemon.Result
	require.NoError(t, f.runJSON(&res, "tick", "on_failure"))
	assert.Equal(t, ir.TickStatusSkipped, res.Status)
	assert.Empty(t, res.Outputs)
}

func TestCommandErrors(t *testing.T) {
	f := newCLIFixture(t)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"unknown sensor", []string{"tick", "nope"}, ExitCommandError, "Error [E004]"},
		{"emit invalid status", []string{"emit", "run-1", "NOT_STARTED"}, ExitCommandError, "Error [E006]"},
		{"emit new run without job", []string{"emit", "run-9", "FAILURE"}, ExitCommandError, "--job is required"},
		{"emit bad time", []string{"emit", "run-9", "FAILURE", "--job", "j", "--at", "yesterday"}, ExitCommandError, "invalid --at"},
		{"negative limit", []string{"ticks", "on_failure", "--limit=-1"}, ExitCommandError, "--limit"},
		{"cursor set bad id", []string{"cursor", "set", "on_failure", "abc"}, ExitCommandError, "record id"},
		{"cursor get unknown", []string{"cursor", "get", "nope"}, ExitCommandError, "unknown sensor"},
		{"sensor start unknown", []string{"sensor", "start", "nope"}, ExitCommandError, "unknown sensor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestMissingConfig(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "sensor", "list"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestCursorCommands(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("cursor", "get", "on_failure")
	require.NoError(t, err)
	assert.Equal(t, "on_failure: no cursor\n", out)

	var view CursorView
	require.NoError(t, f.runJSON(&view, "cursor", "set", "on_failure", "5", "--timestamp", "2026-01-01T00:00:00Z"))
	require.NotNil(t, view.RecordID)
	assert.Equal(t, int64(5), *view.RecordID)
	assert.Equal(t, "2026-01-01T00:00:00Z", view.UpdateTimestamp)

	out, err = f.run("cursor", "get", "on_failure")
	require.NoError(t, err)
	assert.Equal(t, "on_failure: record_id=5 update_timestamp=2026-01-01T00:00:00Z\n", out)

	var reset map[string]any
	require.NoError(t, f.runJSON(&reset, "cursor", "reset", "on_failure"))
	assert.Equal(t, true, reset["deleted"])

	out, err = f.run("cursor", "reset", "on_failure")
	require.NoError(t, err)
	assert.Equal(t, "on_failure: no cursor\n", out)
}

func TestCursorSet_SkipsEvents(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("tick", "on_failure")
	require.NoError(t, err)
	var ev ir.Event
	require.NoError(t, f.runJSON(&ev, "emit", "run-1", "FAILURE", "--job", "etl"))

	// Moving the cursor past the event hides it from the next tick.
	_, err = f.run("cursor", "set", "on_failure", fmt.Sprint(ev.ID))
	require.NoError(t, err)

	var res daemon.Result
	require.NoError(t, f.runJSON(&res, "tick", "on_failure"))
	assert.Equal(t, ir.TickStatusSkipped, res.Status)
	assert.Empty(t, res.Outputs)
}

func TestSensorCommands(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("sensor", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `broken\s+STOPPED\s+FAILURE\s+30s\s+current repository`, out)
	assert.Regexp(t, `on_failure\s+RUNNING\s+FAILURE\s+1s`, out)

	_, err = f.run("sensor", "start", "broken")
	require.NoError(t, err)
	out, err = f.run("sensor", "stop", "on_failure")
	require.NoError(t, err)
	assert.Equal(t, "on_failure: STOPPED\n", out)

	var summaries []SensorSummary
	require.NoError(t, f.runJSON(&summaries, "sensor", "list"))
	require.Len(t, summaries, 3)
	assert.Equal(t, "broken", summaries[0].Name)
	assert.Equal(t, ir.SensorStatusRunning, summaries[0].Status)
	assert.Equal(t, "on_failure", summaries[1].Name)
	assert.Equal(t, ir.SensorStatusStopped, summaries[1].Status)
}

func TestRunOnce(t *testing.T) {
	f := newCLIFixture(t)

	var results []daemon.Result
	require.NoError(t, f.runJSON(&results, "run", "--once"))
	require.Len(t, results, 1, "only on_failure is RUNNING by default")
	assert.Equal(t, "on_failure", results[0].Sensor)
	assert.Equal(t, ir.TickStatusSkipped, results[0].Status)

	// A fresh daemon ticks again; the cursor persisted by the first run
	// moves the sensor past bootstrapping.
	require.NoError(t, f.runJSON(&results, "run", "--once"))
	require.Len(t, results, 1)
	assert.Equal(t, sensor.StateScanning, results[0].State)

	_, err := f.run("sensor", "stop", "on_failure")
	require.NoError(t, err)
	out, err := f.run("run", "--once")
	require.NoError(t, err)
	assert.Equal(t, "No sensor was due.\n", out)
}

func TestValidate(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("validate")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (3 sensor(s))")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
sensors:
  - name: s
    run_status: SUCCESS
    monitor_all_repositories: true
    monitored_jobs: [{job: a}]
    reaction: {action: request_job}
`), 0o644))

	out, err = f.run("validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Validation failed")
	assert.Contains(t, out, "sensors.0.monitored_jobs")
	assert.Contains(t, out, "sensors.0.reaction.job")

	var result ValidationResult
	err = f.runJSON(&result, "validate", bad)
	require.Error(t, err)
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)

	_, err = f.run("validate", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

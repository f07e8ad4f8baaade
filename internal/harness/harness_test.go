package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with testdata/golden/{name}.golden.
//
// To regenerate golden files after an intentional change, run:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := ScenarioFiles("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := filepath.Base(path)
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
		})
	}
}

// TestScenariosReplay validates deterministic replay: running the same
// scenario twice produces byte-identical traces.
func TestScenariosReplay(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/failure_sensor_reacts.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ExpectationMismatch(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
description: expectations that do not hold are reported, not fatal
sensor:
  name: s
  run_status: SUCCESS
  reaction: {action: log}
steps:
  - tick:
      expect: {status: SUCCESS, state: DONE, outputs: 0, error: boom}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Equal(t, "steps[0] (tick-0001): expected status SUCCESS, got SKIPPED", result.Errors[0])
	assert.Equal(t, "steps[0] (tick-0001): expected state DONE, got BOOTSTRAPPING", result.Errors[1])
	assert.Equal(t, "steps[0] (tick-0001): expected 0 output(s), got 1", result.Errors[2])
	assert.Contains(t, result.Errors[3], `expected an error mentioning "boom"`)
}

func TestRun_InvalidSensor(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_sensor
description: the sensor block is checked against the configuration schema
sensor:
  name: s
  run_status: NOT_A_STATUS
  reaction: {action: log}
steps:
  - tick: {}
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad_sensor")
	assert.Contains(t, err.Error(), "run_status")
}

func TestRun_StartAndNoOrigin(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: no_origin
description: runs without an origin only match sensors monitoring all repositories
start: 2026-03-01T12:00:00Z
sensor:
  name: everywhere
  run_status: FAILURE
  monitor_all_repositories: true
  reaction: {action: log}
runs:
  - {run_id: adhoc, job: manual, no_origin: true}
steps:
  - tick: {}
  - emit: {run: adhoc, status: failure}
  - tick:
      expect: {status: SUCCESS, state: DONE}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors=%v", result.Errors)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, "2026-03-01T12:00:00Z", result.Trace[0].Time)
	assert.Equal(t, "FAILURE", result.Trace[1].RunStatus)
	assert.NotEmpty(t, result.Cursor)
}

func TestRunFile(t *testing.T) {
	result, err := RunFile("testdata/scenarios/request_job_on_cancel.yaml")
	require.NoError(t, err)
	assert.True(t, result.Pass)

	_, err = RunFile("testdata/scenarios/missing.yaml")
	require.Error(t, err)
}

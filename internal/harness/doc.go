// Package harness runs scripted sensor scenarios and compares their traces
// with golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	location: analytics
//	repository: warehouse
//	sensor:
//	  name: on_failure
//	  run_status: FAILURE
//	  reaction: {action: log}
//	runs:
//	  - {run_id: run-1, job: nightly_etl}
//	steps:
//	  - tick: {}
//	  - emit: {run: run-1, status: FAILURE}
//	  - advance: 30s
//	  - tick:
//	      expect: {status: SUCCESS, state: DONE, outputs: 1}
//	assertions:
//	  - type: trace_contains
//	    step: tick
//	    fields: {status: SUCCESS}
//	  - type: final_state
//	    table: sensor_ticks
//	    where: {tick_id: tick-0002}
//	    expect: {status: SUCCESS}
//
// The sensor block is one entry of the configuration file's sensors list and
// is checked against the same schema.
//
// # Assertion Types
//
//   - trace_contains: some trace entry of the step type contains the fields
//   - trace_order: the listed selectors match in increasing trace positions
//   - trace_count: exactly count entries match
//   - final_state: one row of a store table matches where and holds expect
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite store, with a fake
// clock starting at testutil.DefaultTime (or the scenario's start) and tick
// ids tick-0001, tick-0002 and so on. Identical scenarios therefore produce
// byte-identical traces, which RunWithGolden compares with
// testdata/golden/{name}.golden.
package harness

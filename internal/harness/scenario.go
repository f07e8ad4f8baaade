package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/henriblancke/dagster/internal/config"
	"github.com/henriblancke/dagster/internal/ir"
)

// Scenario is a scripted sequence of run status changes and sensor ticks
// with assertions on the resulting trace and final store state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Location and Repository are the repository the sensor is loaded
	// from. Empty values take the configuration defaults.
	Location   string `yaml:"location,omitempty"`
	Repository string `yaml:"repository,omitempty"`

	// Start is the initial clock time. Defaults to testutil.DefaultTime.
	Start time.Time `yaml:"start,omitempty"`

	// Sensor is one entry of the configuration file's sensors list. It is
	// validated against the configuration schema.
	Sensor map[string]any `yaml:"sensor"`

	// Runs are created in NOT_STARTED status before the first step.
	Runs []RunSpec `yaml:"runs,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RunSpec declares a run. Without NoOrigin the run belongs to the scenario's
// repository unless Location or Repository override it.
type RunSpec struct {
	RunID      string            `yaml:"run_id"`
	Job        string            `yaml:"job"`
	Location   string            `yaml:"location,omitempty"`
	Repository string            `yaml:"repository,omitempty"`
	NoOrigin   bool              `yaml:"no_origin,omitempty"`
	Tags       map[string]string `yaml:"tags,omitempty"`
}

// Step is exactly one of emit, tick or advance.
type Step struct {
	Emit *EmitStep `yaml:"emit,omitempty"`
	Tick *TickStep `yaml:"tick,omitempty"`

	// Advance moves the clock forward by a Go duration ("30s").
	Advance string `yaml:"advance,omitempty"`
}

// EmitStep records that a run reached a status.
type EmitStep struct {
	Run    string `yaml:"run"`
	Status string `yaml:"status"`
}

// TickStep ticks the sensor and optionally checks the outcome.
type TickStep struct {
	Expect *TickExpect `yaml:"expect,omitempty"`
}

// TickExpect lists the expected tick outcome. Empty fields are not checked.
type TickExpect struct {
	Status string `yaml:"status,omitempty"`
	State  string `yaml:"state,omitempty"`

	// Outputs is the expected number of outputs.
	Outputs *int `yaml:"outputs,omitempty"`

	// Error is a substring of the tick error or one of its causes.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count or
	// final_state.
	Type string `yaml:"type"`

	// Step and Fields select trace entries (trace_contains, trace_count).
	// Fields is a subset match against the entry's fields.
	Step   string         `yaml:"step,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`

	// Count is the expected number of matching entries (trace_count).
	Count int `yaml:"count,omitempty"`

	// Order lists entry selectors that must match in increasing trace
	// positions (trace_order).
	Order []Match `yaml:"order,omitempty"`

	// Table, Where and Expect query one row of a store table (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Match selects trace entries by step type and fields.
type Match struct {
	Step   string         `yaml:"step"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields to catch typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Config builds the sensord configuration the scenario runs against. The
// sensor block goes through the same schema and checks as a config file.
func (s *Scenario) Config() (*config.Config, error) {
	doc := map[string]any{"sensors": []any{s.Sensor}}
	if s.Location != "" {
		doc["location"] = s.Location
	}
	if s.Repository != "" {
		doc["repository"] = s.Repository
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: encode sensor: %w", s.Name, err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: sensor: %w", s.Name, err)
	}
	return cfg, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Sensor) == 0 {
		return fmt.Errorf("sensor is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	runs := make(map[string]bool, len(s.Runs))
	for i, run := range s.Runs {
		if run.RunID == "" {
			return fmt.Errorf("runs[%d]: run_id is required", i)
		}
		if run.Job == "" {
			return fmt.Errorf("runs[%d]: job is required", i)
		}
		if runs[run.RunID] {
			return fmt.Errorf("runs[%d]: run %q is declared twice", i, run.RunID)
		}
		runs[run.RunID] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, runs); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step, runs map[string]bool) error {
	set := 0
	if step.Emit != nil {
		set++
	}
	if step.Tick != nil {
		set++
	}
	if step.Advance != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of emit, tick or advance is required", index)
	}

	switch {
	case step.Emit != nil:
		if !runs[step.Emit.Run] {
			return fmt.Errorf("steps[%d].emit: run %q is not declared in runs", index, step.Emit.Run)
		}
		if _, err := ir.EventTypeForStatus(ir.RunStatus(strings.ToUpper(step.Emit.Status))); err != nil {
			return fmt.Errorf("steps[%d].emit: %w", index, err)
		}
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d].advance: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d].advance: duration must be positive", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Order) == 0 {
			return fmt.Errorf("assertions[%d]: order list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

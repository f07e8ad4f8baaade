package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/henriblancke/dagster/internal/config"
	"github.com/henriblancke/dagster/internal/cursor"
	"github.com/henriblancke/dagster/internal/daemon"
	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/sensor"
	"github.com/henriblancke/dagster/internal/store"
	"github.com/henriblancke/dagster/internal/testutil"
)

// Harness executes one scenario against a private store.
type Harness struct {
	store  *store.Store
	daemon *daemon.Daemon
	clock  *testutil.FakeClock
	cfg    *config.Config
	sensor string
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a fake clock and
// sequential tick ids, so identical scenarios produce identical traces.
//
// Execution flow:
// 1. Build the sensor from the scenario's configuration block
// 2. Create the declared runs
// 3. Execute steps, checking tick expectations
// 4. Evaluate assertions against the trace and store
//
// An error is returned when the scenario cannot be executed at all; failed
// expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := scenario.Config()
	if err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	clock := testutil.NewFakeClock(scenario.Start)
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	evaluator := sensor.NewEvaluator(st, st, st,
		sensor.WithClock(clock),
		sensor.WithRepository(cfg.Origin()),
		sensor.WithLogger(logger),
	)
	h := &Harness{
		store: st,
		daemon: daemon.New(registry, evaluator, st,
			daemon.WithClock(clock),
			daemon.WithIDGenerator(testutil.NewSequentialIDs("tick")),
			daemon.WithLogger(logger),
		),
		clock:  clock,
		cfg:    cfg,
		sensor: cfg.Sensors[0].Name,
		logger: logger.With("scenario", scenario.Name),
	}

	ctx := context.Background()
	if err := h.createRuns(ctx, scenario.Runs); err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, err
	}

	raw, _, err := st.Cursor(ctx, h.sensor)
	if err != nil {
		return nil, fmt.Errorf("read final cursor: %w", err)
	}
	result.Cursor = raw

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (h *Harness) createRuns(ctx context.Context, runs []RunSpec) error {
	for i, rs := range runs {
		run := ir.RunRecord{
			RunID:           rs.RunID,
			JobName:         rs.Job,
			Status:          ir.RunStatusNotStarted,
			Tags:            rs.Tags,
			CreateTimestamp: h.clock.Now(),
		}
		if !rs.NoOrigin {
			origin := h.cfg.Origin()
			if rs.Location != "" {
				origin.Location = rs.Location
			}
			if rs.Repository != "" {
				origin.Repository = rs.Repository
			}
			run.Origin = &origin
		}
		if err := h.store.AddRun(ctx, run); err != nil {
			return fmt.Errorf("runs[%d]: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		now := h.clock.Now().UTC().Format(time.RFC3339)

		switch {
		case step.Emit != nil:
			status := ir.RunStatus(strings.ToUpper(step.Emit.Status))
			ev, err := h.store.ReportRunStatus(ctx, step.Emit.Run, status, h.clock.Now())
			if err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			result.add(TraceEvent{
				Type:      StepEmit,
				Time:      now,
				RunID:     ev.RunID,
				RunStatus: string(status),
				EventType: string(ev.Type),
				RecordID:  ev.ID,
			})

		case step.Tick != nil:
			res, err := h.daemon.TickSensor(ctx, h.sensor)
			if err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			entry := result.add(tickEvent(now, res))
			if step.Tick.Expect != nil {
				for _, msg := range checkTick(entry, *step.Tick.Expect) {
					result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, entry.TickID, msg))
				}
			}
			h.logger.Debug("tick step completed", "step", i, "tick_id", res.TickID, "status", res.Status)

		default:
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			h.clock.Advance(d)
			result.add(TraceEvent{Type: StepAdvance, Time: h.clock.Now().UTC().Format(time.RFC3339)})
		}
	}
	return nil
}

func tickEvent(now string, res daemon.Result) TraceEvent {
	e := TraceEvent{
		Type:       StepTick,
		Time:       now,
		TickID:     res.TickID,
		Status:     string(res.Status),
		State:      string(res.State),
		Inspected:  res.Inspected,
		SkipReason: res.SkipReason,
		Outputs:    res.Outputs,
	}
	if res.Cursor != "" {
		if c, err := cursor.Decode(res.Cursor); err == nil {
			e.CursorRecordID = &c.RecordID
		}
	}
	if res.Error != nil {
		e.Error = res.Error.Message
		for cause := res.Error.Cause; cause != nil; cause = cause.Cause {
			e.Causes = append(e.Causes, cause.Message)
		}
	}
	return e
}

// checkTick compares a tick entry with its expectation.
func checkTick(e TraceEvent, expect TickExpect) []string {
	var errs []string
	if expect.Status != "" && !strings.EqualFold(expect.Status, e.Status) {
		errs = append(errs, fmt.Sprintf("expected status %s, got %s", expect.Status, e.Status))
	}
	if expect.State != "" && !strings.EqualFold(expect.State, e.State) {
		errs = append(errs, fmt.Sprintf("expected state %s, got %s", expect.State, e.State))
	}
	if expect.Outputs != nil && *expect.Outputs != len(e.Outputs) {
		errs = append(errs, fmt.Sprintf("expected %d output(s), got %d", *expect.Outputs, len(e.Outputs)))
	}
	if expect.Error != "" && !errorMentions(e, expect.Error) {
		errs = append(errs, fmt.Sprintf("expected an error mentioning %q, got %q", expect.Error, e.Error))
	}
	return errs
}

func errorMentions(e TraceEvent, text string) bool {
	if strings.Contains(e.Error, text) {
		return true
	}
	for _, c := range e.Causes {
		if strings.Contains(c, text) {
			return true
		}
	}
	return false
}

// ErrScenarioFailed is returned by RunFile when the scenario ran but did not
// pass.
var ErrScenarioFailed = errors.New("scenario failed")

// RunFile loads and runs a scenario file. A result that does not pass is
// returned together with an error wrapping ErrScenarioFailed.
func RunFile(path string) (*Result, error) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return nil, err
	}
	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if !result.Pass {
		return result, fmt.Errorf("%s: %w: %s", scenario.Name, ErrScenarioFailed, strings.Join(result.Errors, "; "))
	}
	return result, nil
}

package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/sensor"
	"github.com/henriblancke/dagster/internal/store"
	"github.com/henriblancke/dagster/internal/telemetry"
	"github.com/henriblancke/dagster/internal/testutil"
)

var repo = ir.RepositoryOrigin{Location: "loc", Repository: "repo"}

type fixture struct {
	t        *testing.T
	store    *store.Store
	clock    *testutil.FakeClock
	registry *sensor.Registry
	daemon   *Daemon
}

func newFixture(t *testing.T, defs []*sensor.Definition, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sensord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewFakeClock(time.Time{})
	registry := sensor.NewRegistry().MustRegister(defs...)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	evaluator := sensor.NewEvaluator(st, st, st,
		sensor.WithClock(clock), sensor.WithRepository(repo), sensor.WithLogger(logger))

	opts = append([]Option{
		WithClock(clock),
		WithIDGenerator(testutil.NewSequentialIDs("tick")),
		WithLogger(logger),
	}, opts...)
	return &fixture{
		t:        t,
		store:    st,
		clock:    clock,
		registry: registry,
		daemon:   New(registry, evaluator, st, opts...),
	}
}

func (f *fixture) addRun(runID, job string) {
	f.t.Helper()
	require.NoError(f.t, f.store.AddRun(context.Background(), ir.RunRecord{
		RunID:           runID,
		JobName:         job,
		Status:          ir.RunStatusStarted,
		Origin:          &repo,
		CreateTimestamp: f.clock.Now(),
	}))
}

func (f *fixture) report(runID string, status ir.RunStatus) {
	f.t.Helper()
	_, err := f.store.ReportRunStatus(context.Background(), runID, status, f.clock.Advance(time.Second))
	require.NoError(f.t, err)
}

func (f *fixture) tick(name string) Result {
	f.t.Helper()
	res, err := f.daemon.TickSensor(context.Background(), name)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) storedCursor(name string) string {
	f.t.Helper()
	c, found, err := f.store.Cursor(context.Background(), name)
	require.NoError(f.t, err)
	require.True(f.t, found, "no cursor stored for %s", name)
	return c
}

// countingSensor builds a FAILURE sensor that counts its invocations and
// returns result.
func countingSensor(t *testing.T, name string, calls *atomic.Int32, result func(*sensor.Context) ([]sensor.Output, error), opts ...sensor.Option) *sensor.Definition {
	t.Helper()
	def, err := sensor.NewRunStatusSensor(name, ir.RunStatusFailure, func(c *sensor.Context) ([]sensor.Output, error) {
		calls.Add(1)
		return result(c)
	}, opts...)
	require.NoError(t, err)
	return def
}

func nilResult(*sensor.Context) ([]sensor.Output, error) { return nil, nil }

func TestTickSensor_BootstrapThenReact(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, []*sensor.Definition{countingSensor(t, "on_failure", &calls, nilResult)})
	ctx := context.Background()

	first := f.tick("on_failure")
	assert.Equal(t, "tick-0001", first.TickID)
	assert.Equal(t, ir.TickStatusSkipped, first.Status)
	assert.Equal(t, sensor.StateBootstrapping, first.State)
	assert.True(t, strings.HasPrefix(first.SkipReason, "Initiating on_failure. Set cursor to "), first.SkipReason)
	assert.Equal(t, first.Cursor, f.storedCursor("on_failure"))

	f.addRun("run-1", "etl")
	f.report("run-1", ir.RunStatusFailure)

	second := f.tick("on_failure")
	assert.Equal(t, ir.TickStatusSuccess, second.Status)
	assert.Equal(t, sensor.StateDone, second.State)
	require.Len(t, second.Outputs, 1)
	assert.Equal(t, sensor.OutputRunReaction, second.Outputs[0].Kind)
	assert.Equal(t, "run-1", second.Outputs[0].RunID)
	assert.Empty(t, second.SkipReason)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, second.Cursor, f.storedCursor("on_failure"))

	events, err := f.store.EventsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ir.EventTypeEngineEvent, events[1].Type)
	assert.Equal(t, `Sensor "on_failure" acted on run status FAILURE of run run-1.`, events[1].Message)

	ticks, err := f.daemon.Ticks(ctx, "on_failure", 10)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, "tick-0002", ticks[0].TickID)
	assert.Equal(t, ir.TickStatusSuccess, ticks[0].Status)
	assert.Contains(t, ticks[0].Outputs, `"kind":"RUN_REACTION"`)
	assert.Equal(t, "tick-0001", ticks[1].TickID)

	// Nothing new: the third tick scans and skips without reacting.
	third := f.tick("on_failure")
	assert.Equal(t, ir.TickStatusSkipped, third.Status)
	assert.Equal(t, sensor.StateScanning, third.State)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTickSensor_ReactionErrorFailsTickAndCommitsCursor(t *testing.T) {
	var calls atomic.Int32
	def := countingSensor(t, "on_failure", &calls, func(*sensor.Context) ([]sensor.Output, error) {
		return nil, errors.New("slack is down")
	})
	f := newFixture(t, []*sensor.Definition{def})

	f.tick("on_failure")
	f.addRun("run-1", "etl")
	f.report("run-1", ir.RunStatusFailure)

	res := f.tick("on_failure")
	assert.Equal(t, ir.TickStatusFailure, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.String(), "slack is down")
	assert.Equal(t, res.Cursor, f.storedCursor("on_failure"))

	// No engine event for a failed reaction.
	events, err := f.store.EventsForRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// The event is not reprocessed.
	next := f.tick("on_failure")
	assert.Equal(t, ir.TickStatusSkipped, next.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTickSensor_RunRequestErrorCommitsCursor(t *testing.T) {
	var calls atomic.Int32
	def := countingSensor(t, "on_failure", &calls, func(c *sensor.Context) ([]sensor.Output, error) {
		if c.Run().RunID == "run-1" {
			return []sensor.Output{sensor.RunRequest{JobName: "undeclared"}}, nil
		}
		return nil, nil
	}, sensor.WithRequestJobs("cleanup"))
	f := newFixture(t, []*sensor.Definition{def})

	f.tick("on_failure")
	f.addRun("run-1", "etl")
	f.addRun("run-2", "etl")
	f.report("run-1", ir.RunStatusFailure)
	f.report("run-2", ir.RunStatusFailure)

	res := f.tick("on_failure")
	assert.Equal(t, ir.TickStatusFailure, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.String(), "undeclared")
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, sensor.OutputRunReaction, res.Outputs[0].Kind)
	assert.Equal(t, "run-1", res.Outputs[0].RunID)
	assert.Equal(t, res.Cursor, f.storedCursor("on_failure"))

	latest, err := f.store.LatestTick(context.Background(), "on_failure")
	require.NoError(t, err)
	assert.Equal(t, ir.TickStatusFailure, latest.Status)
	assert.Equal(t, res.Cursor, latest.Cursor)

	// The next tick moves on to run-2 instead of retrying run-1.
	next := f.tick("on_failure")
	assert.Equal(t, ir.TickStatusSuccess, next.Status)
	require.Len(t, next.Outputs, 1)
	assert.Equal(t, "run-2", next.Outputs[0].RunID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTickSensor_RunRequestSucceeds(t *testing.T) {
	var calls atomic.Int32
	def := countingSensor(t, "on_failure", &calls, func(c *sensor.Context) ([]sensor.Output, error) {
		return []sensor.Output{sensor.RunRequest{RunKey: c.Run().RunID}}, nil
	}, sensor.WithRequestJobs("cleanup"))
	f := newFixture(t, []*sensor.Definition{def})

	f.tick("on_failure")
	f.addRun("run-1", "etl")
	f.report("run-1", ir.RunStatusFailure)

	res := f.tick("on_failure")
	assert.Equal(t, ir.TickStatusSuccess, res.Status)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "cleanup", res.Outputs[0].JobName)
	assert.Equal(t, "run-1", res.Outputs[0].RunKey)
	require.Len(t, res.RawOutputs(), 1)
}

func TestTickSensor_UnknownSensor(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.daemon.TickSensor(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownSensor)
}

func TestTickSensor_BusySensor(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, []*sensor.Definition{countingSensor(t, "on_failure", &calls, nilResult)})

	lock := f.daemon.lockFor("on_failure")
	lock.Lock()
	_, err := f.daemon.TickSensor(context.Background(), "on_failure")
	lock.Unlock()
	assert.ErrorIs(t, err, ErrTickInProgress)

	_, err = f.daemon.TickSensor(context.Background(), "on_failure")
	assert.NoError(t, err)
}

func TestTickSensor_StoreFailureIsRecorded(t *testing.T) {
	var calls atomic.Int32
	mem := testutil.NewMemoryStore()
	mem.CursorErr = errors.New("connection reset")

	st, err := store.Open(filepath.Join(t.TempDir(), "sensord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	def := countingSensor(t, "on_failure", &calls, nilResult)
	registry := sensor.NewRegistry().MustRegister(def)
	evaluator := sensor.NewEvaluator(st, st, mem, sensor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	d := New(registry, evaluator, st,
		WithCursorStore(mem),
		WithIDGenerator(testutil.NewFixedIDs("t1")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	res, err := d.TickSensor(context.Background(), "on_failure")
	require.NoError(t, err)
	assert.Equal(t, ir.TickStatusFailure, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.String(), "connection reset")

	latest, err := st.LatestTick(context.Background(), "on_failure")
	require.NoError(t, err)
	assert.Equal(t, "t1", latest.TickID)
	assert.Equal(t, ir.TickStatusFailure, latest.Status)
}

func TestSeparateCursorStore(t *testing.T) {
	var calls atomic.Int32
	mem := testutil.NewMemoryStore()

	st, err := store.Open(filepath.Join(t.TempDir(), "sensord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	def := countingSensor(t, "on_failure", &calls, nilResult)
	registry := sensor.NewRegistry().MustRegister(def)
	evaluator := sensor.NewEvaluator(st, st, mem, sensor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	d := New(registry, evaluator, st, WithCursorStore(mem), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	assert.Same(t, mem, d.CursorStore())

	res, err := d.TickSensor(context.Background(), "on_failure")
	require.NoError(t, err)

	c, found, err := mem.Cursor(context.Background(), "on_failure")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, res.Cursor, c)

	_, found, err = st.Cursor(context.Background(), "on_failure")
	require.NoError(t, err)
	assert.False(t, found)

	ticks, err := st.Ticks(context.Background(), "on_failure", 0)
	require.NoError(t, err)
	assert.Len(t, ticks, 1)

	// Tick ids default to UUIDv7.
	id, err := uuid.Parse(res.TickID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestRunIteration_StatusAndInterval(t *testing.T) {
	var running, stopped atomic.Int32
	f := newFixture(t, []*sensor.Definition{
		countingSensor(t, "running", &running, nilResult,
			sensor.WithDefaultStatus(ir.SensorStatusRunning), sensor.WithMinimumInterval(30)),
		countingSensor(t, "stopped", &stopped, nilResult),
	})
	ctx := context.Background()

	results, err := f.daemon.RunIteration(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "running", results[0].Sensor)

	// Not due yet.
	f.clock.Advance(10 * time.Second)
	results, err = f.daemon.RunIteration(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	f.clock.Advance(20 * time.Second)
	require.NoError(t, f.daemon.Start(ctx, "stopped"))
	results, err = f.daemon.RunIteration(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "running", results[0].Sensor)
	assert.Equal(t, "stopped", results[1].Sensor)

	require.NoError(t, f.daemon.Stop(ctx, "running"))
	f.clock.Advance(time.Minute)
	results, err = f.daemon.RunIteration(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "stopped", results[0].Sensor)
}

func TestRunIteration_BusySensorKeepsSlot(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, []*sensor.Definition{
		countingSensor(t, "on_failure", &calls, nilResult,
			sensor.WithDefaultStatus(ir.SensorStatusRunning), sensor.WithMinimumInterval(30)),
	})
	ctx := context.Background()

	lock := f.daemon.lockFor("on_failure")
	lock.Lock()
	results, err := f.daemon.RunIteration(ctx)
	lock.Unlock()
	require.NoError(t, err)
	assert.Empty(t, results)

	// No time has passed, yet the sensor is still due.
	results, err = f.daemon.RunIteration(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "on_failure", results[0].Sensor)

	results, err = f.daemon.RunIteration(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	ticks, err := f.daemon.Ticks(ctx, "on_failure", 10)
	require.NoError(t, err)
	assert.Len(t, ticks, 1)
}

func TestStatus(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, []*sensor.Definition{
		countingSensor(t, "a", &calls, nilResult, sensor.WithDefaultStatus(ir.SensorStatusRunning)),
		countingSensor(t, "b", &calls, nilResult),
	})
	ctx := context.Background()

	status, err := f.daemon.Status(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ir.SensorStatusRunning, status)

	status, err = f.daemon.Status(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, ir.SensorStatusStopped, status)

	require.NoError(t, f.daemon.Stop(ctx, "a"))
	status, err = f.daemon.Status(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ir.SensorStatusStopped, status)

	_, err = f.daemon.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownSensor)
	assert.ErrorIs(t, f.daemon.Start(ctx, "missing"), ErrUnknownSensor)
	_, err = f.daemon.Ticks(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrUnknownSensor)
}

func TestRun_StopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, []*sensor.Definition{
		countingSensor(t, "a", &calls, nilResult, sensor.WithDefaultStatus(ir.SensorStatusRunning)),
	}, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.daemon.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTelemetryRecordsTicks(t *testing.T) {
	var calls atomic.Int32
	p, err := telemetry.New()
	require.NoError(t, err)

	f := newFixture(t, []*sensor.Definition{countingSensor(t, "on_failure", &calls, nilResult)}, WithTelemetry(p))
	f.tick("on_failure")
	f.addRun("run-1", "etl")
	f.report("run-1", ir.RunStatusFailure)
	f.tick("on_failure")

	points, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), telemetry.Value(points, telemetry.MetricTicks, map[string]string{
		"sensord.sensor": "on_failure", "sensord.tick.status": "SKIPPED",
	}))
	assert.Equal(t, int64(1), telemetry.Value(points, telemetry.MetricTicks, map[string]string{
		"sensord.sensor": "on_failure", "sensord.tick.status": "SUCCESS",
	}))
	assert.Equal(t, int64(1), telemetry.Value(points, telemetry.MetricInspected, nil))
	assert.Equal(t, int64(1), telemetry.Value(points, telemetry.MetricOutputs, map[string]string{
		"sensord.output.kind": "RUN_REACTION",
	}))
}

func TestSummarize(t *testing.T) {
	reactionErr := &ir.ErrorInfo{Message: "boom"}
	tests := []struct {
		name    string
		outputs []sensor.Output
		status  ir.TickStatus
		skip    string
		err     *ir.ErrorInfo
	}{
		{"no outputs", nil, ir.TickStatusSkipped, "", nil},
		{"skip reason", []sensor.Output{sensor.SkipReason{Message: "quiet"}}, ir.TickStatusSkipped, "quiet", nil},
		{"reaction", []sensor.Output{sensor.RunReaction{}}, ir.TickStatusSuccess, "", nil},
		{"request wins over skip", []sensor.Output{sensor.SkipReason{Message: "x"}, sensor.RunRequest{}}, ir.TickStatusSuccess, "", nil},
		{"failed reaction", []sensor.Output{sensor.RunReaction{Error: reactionErr}}, ir.TickStatusFailure, "", reactionErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, skip, err := summarize(tt.outputs)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.skip, skip)
			assert.Equal(t, tt.err, err)
		})
	}
}

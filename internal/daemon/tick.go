package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/sensor"
	"github.com/henriblancke/dagster/internal/telemetry"
)

// Result is the outcome of one persisted tick.
type Result struct {
	TickID     string                `json:"tick_id"`
	Sensor     string                `json:"sensor"`
	Status     ir.TickStatus         `json:"status"`
	State      sensor.State          `json:"state,omitempty"`
	Cursor     string                `json:"cursor,omitempty"`
	SkipReason string                `json:"skip_reason,omitempty"`
	Error      *ir.ErrorInfo         `json:"error,omitempty"`
	Inspected  int                   `json:"inspected"`
	Outputs    []sensor.OutputRecord `json:"outputs"`
	Timestamp  time.Time             `json:"timestamp"`

	outputs []sensor.Output
}

// RawOutputs returns the outputs as emitted by the evaluator.
func (r Result) RawOutputs() []sensor.Output { return r.outputs }

// TickSensor performs one tick of a sensor and records it, regardless of the
// sensor's status or minimum interval.
//
// Evaluation failures do not produce an error: they are recorded as a FAILURE
// tick and reported in Result.Error. An error is returned for an unknown or
// busy sensor and when the tick cannot be persisted.
func (d *Daemon) TickSensor(ctx context.Context, name string) (Result, error) {
	def, ok := d.registry.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("tick %s: %w", name, ErrUnknownSensor)
	}

	lock := d.lockFor(name)
	if !lock.TryLock() {
		return Result{}, fmt.Errorf("tick %s: %w", name, ErrTickInProgress)
	}
	defer lock.Unlock()
	return d.tickLocked(ctx, def)
}

// tickLocked runs one traced tick. The caller holds the sensor's lock.
func (d *Daemon) tickLocked(ctx context.Context, def *sensor.Definition) (Result, error) {
	name := def.Name
	tickID := d.ids.Generate()
	logger := d.logger.With("sensor", name, "tick_id", tickID)

	var (
		span  trace.Span
		begin time.Time
	)
	if d.telemetry != nil {
		ctx, span = d.telemetry.StartTick(ctx, name, tickID)
		begin = time.Now()
	}

	res, err := d.tick(ctx, def, tickID, logger)

	if d.telemetry != nil {
		spanErr := err
		if spanErr == nil && res.Error != nil {
			spanErr = errors.New(res.Error.Message)
		}
		kinds := make([]string, 0, len(res.Outputs))
		for _, o := range res.Outputs {
			kinds = append(kinds, string(o.Kind))
		}
		d.telemetry.EndTick(ctx, span, telemetry.Tick{
			Sensor:    name,
			TickID:    tickID,
			Status:    res.Status,
			Inspected: res.Inspected,
			Outputs:   kinds,
			Duration:  time.Since(begin),
		}, spanErr)
	}
	return res, err
}

func (d *Daemon) tick(ctx context.Context, def *sensor.Definition, tickID string, logger *slog.Logger) (Result, error) {
	now := d.clock.Now().UTC()
	res := Result{TickID: tickID, Sensor: def.Name, Timestamp: now, Outputs: []sensor.OutputRecord{}}

	evaluated, evalErr := d.evaluator.Evaluate(ctx, def)
	if evalErr != nil {
		logger.Error("sensor tick failed", "error", evalErr)
		res.Status = ir.TickStatusFailure
		res.Error = ir.ErrorInfoFromError(evalErr)
		tick := ir.TickRecord{
			TickID:     tickID,
			SensorName: def.Name,
			Status:     res.Status,
			Error:      res.Error,
			Outputs:    "[]",
			Timestamp:  now,
		}
		// The failed tick commits no cursor: the next tick retries the event.
		if _, err := d.store.RecordTick(ctx, tick); err != nil {
			return res, fmt.Errorf("tick %s: record failed tick: %w (evaluation: %v)", def.Name, err, evalErr)
		}
		return res, nil
	}

	res.State = evaluated.State
	res.Cursor = evaluated.Cursor
	res.Inspected = evaluated.Inspected
	res.outputs = evaluated.Outputs
	res.Outputs = sensor.Records(evaluated.Outputs)
	res.Status, res.SkipReason, res.Error = summarize(evaluated.Outputs)

	outputs, err := sensor.MarshalOutputs(evaluated.Outputs)
	if err != nil {
		return res, fmt.Errorf("tick %s: %w", def.Name, err)
	}
	tick := ir.TickRecord{
		TickID:     tickID,
		SensorName: def.Name,
		Status:     res.Status,
		Cursor:     evaluated.Cursor,
		SkipReason: res.SkipReason,
		Error:      res.Error,
		Outputs:    outputs,
		Timestamp:  now,
	}
	if err := d.commit(ctx, tick); err != nil {
		return res, fmt.Errorf("tick %s: %w", def.Name, err)
	}

	d.report(ctx, def, evaluated.Outputs, now, logger)

	logger.Info("sensor tick complete",
		"status", res.Status, "state", res.State, "inspected", res.Inspected, "outputs", len(res.Outputs))
	return res, nil
}

// commit persists the tick record and its cursor. With a separate cursor
// backend the tick is recorded first: a crash in between replays the
// deciding event on the next tick instead of losing it.
func (d *Daemon) commit(ctx context.Context, tick ir.TickRecord) error {
	if d.cursors == nil {
		_, err := d.store.CommitTick(ctx, tick)
		return err
	}
	if _, err := d.store.RecordTick(ctx, tick); err != nil {
		return err
	}
	if tick.Cursor == "" {
		return nil
	}
	if err := d.cursors.PutCursor(ctx, tick.SensorName, tick.Cursor); err != nil {
		return fmt.Errorf("put cursor: %w", err)
	}
	return nil
}

// report appends an ENGINE_EVENT for each successful reaction and logs run
// requests and failed reactions. Reporting failures are logged only: the
// tick is already committed.
func (d *Daemon) report(ctx context.Context, def *sensor.Definition, outputs []sensor.Output, now time.Time, logger *slog.Logger) {
	for _, o := range outputs {
		switch o := o.(type) {
		case sensor.RunReaction:
			if o.Error != nil {
				logger.Error("reaction to run failed", "run_id", o.Run.RunID, "error", o.Error.Message)
				continue
			}
			if _, err := d.store.ReportEngineEvent(ctx, def.Name, o.Run, o.Status, now); err != nil {
				logger.Warn("failed to report engine event", "run_id", o.Run.RunID, "error", err)
			}
		case sensor.RunRequest:
			logger.Info("run requested", "job", o.JobName, "run_key", o.RunKey)
		}
	}
}

// summarize derives the tick status from its outputs. A failed reaction
// fails the tick but its cursor is still committed, so the event is not
// reprocessed.
func summarize(outputs []sensor.Output) (ir.TickStatus, string, *ir.ErrorInfo) {
	status := ir.TickStatusSkipped
	var skip string
	for _, o := range outputs {
		switch o := o.(type) {
		case sensor.RunReaction:
			if o.Error != nil {
				return ir.TickStatusFailure, "", o.Error
			}
			status = ir.TickStatusSuccess
		case sensor.RunRequest:
			status = ir.TickStatusSuccess
		case sensor.SkipReason:
			if skip == "" {
				skip = o.Message
			}
		}
	}
	if status == ir.TickStatusSuccess {
		skip = ""
	}
	return status, skip, nil
}

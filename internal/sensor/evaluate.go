package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/henriblancke/dagster/internal/cursor"
	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/scope"
)

// DefaultBatchSize is the number of events inspected per tick. It bounds the
// work of one tick when the sensor is far behind the log.
const DefaultBatchSize = 5

// State is the phase a tick ended in.
type State string

const (
	// StateBootstrapping means the tick initialized the cursor and skipped
	// history.
	StateBootstrapping State = "BOOTSTRAPPING"

	// StateScanning means the batch was exhausted without a matching event.
	StateScanning State = "SCANNING"

	// StateDone means a matching event was found and the reaction ran.
	StateDone State = "DONE"
)

// TickResult is the outcome of one tick.
type TickResult struct {
	Sensor string
	State  State

	// Outputs holds at most one logical decision.
	Outputs []Output

	// Cursor is the encoded cursor the driver must commit with the tick.
	Cursor string

	// Inspected counts the events examined by this tick.
	Inspected int

	// Event is the event that triggered the reaction, when State is
	// StateDone.
	Event *ir.Event
}

// Evaluator runs ticks of run status sensors.
//
// An Evaluator is safe for concurrent use across different sensors. Ticks of
// one sensor must be serialized by the caller.
type Evaluator struct {
	events    EventReader
	runs      RunReader
	cursors   CursorStore
	instance  Instance
	current   ir.RepositoryOrigin
	batchSize int
	clock     Clock
	logger    *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithClock sets the clock used to stamp bootstrap cursors.
func WithClock(c Clock) EvaluatorOption {
	return func(e *Evaluator) { e.clock = c }
}

// WithRepository sets the origin of the repository the sensors belong to.
func WithRepository(origin ir.RepositoryOrigin) EvaluatorOption {
	return func(e *Evaluator) { e.current = origin }
}

// WithLogger sets the logger. Reactions receive a child of it.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = logger }
}

// WithReactionInstance overrides the stores exposed through
// Context.Instance.
func WithReactionInstance(inst Instance) EvaluatorOption {
	return func(e *Evaluator) { e.instance = inst }
}

// NewEvaluator creates an Evaluator over the given collaborators.
func NewEvaluator(events EventReader, runs RunReader, cursors CursorStore, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		events:    events,
		runs:      runs,
		cursors:   cursors,
		instance:  instance{EventReader: events, RunReader: runs},
		batchSize: DefaultBatchSize,
		clock:     SystemClock,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "sensor")
	return e
}

// Repository returns the origin of the current repository.
func (e *Evaluator) Repository() ir.RepositoryOrigin { return e.current }

// Evaluate performs one tick of def.
//
// Skipped events are checkpointed through CursorStore.PutCursor as they are
// passed. The cursor of the deciding event is only returned in
// TickResult.Cursor and must be committed by the caller together with the
// outputs.
//
// Store failures abort the tick and are returned. Failures of the reaction
// are never returned; they become a RunReaction carrying the error. So does
// a RunRequest for an undeclared job, as a *RunRequestError.
func (e *Evaluator) Evaluate(ctx context.Context, def *Definition) (TickResult, error) {
	logger := e.logger.With("sensor", def.Name)

	raw, found, err := e.cursors.Cursor(ctx, def.Name)
	if err != nil {
		return TickResult{}, fmt.Errorf("evaluate %s: load cursor: %w", def.Name, err)
	}
	if !found || !cursor.IsValid(raw) {
		return e.bootstrap(ctx, def, logger, found)
	}
	cur, _ := cursor.Decode(raw)

	events, err := e.events.EventRecords(ctx, ir.EventFilter{
		Type:      def.EventType,
		AfterID:   cur.RecordID,
		Ascending: true,
		Limit:     e.batchSize,
	})
	if err != nil {
		return TickResult{}, fmt.Errorf("evaluate %s: fetch events after %d: %w", def.Name, cur.RecordID, err)
	}

	result := TickResult{Sensor: def.Name, State: StateScanning, Cursor: raw}
	for _, ev := range events {
		result.Inspected++

		run, err := e.runs.Run(ctx, ev.RunID)
		if errors.Is(err, ir.ErrRunNotFound) {
			// Without a run record the event's own timestamp stands in for
			// the run update time.
			next := cursor.Encode(cursor.New(ev.ID, ev.Timestamp))
			if err := e.checkpoint(ctx, def.Name, next); err != nil {
				return TickResult{}, err
			}
			result.Cursor = next
			logger.Debug("skipping event of unknown run", "record_id", ev.ID, "run_id", ev.RunID)
			continue
		}
		if err != nil {
			return TickResult{}, fmt.Errorf("evaluate %s: load run %s: %w", def.Name, ev.RunID, err)
		}

		next := cursor.Encode(cursor.New(ev.ID, run.UpdateTimestamp))
		decision := scope.Match(def.Scope, run, e.current)
		if !decision.Match {
			if err := e.checkpoint(ctx, def.Name, next); err != nil {
				return TickResult{}, err
			}
			result.Cursor = next
			logger.Debug("skipping event outside scope",
				"record_id", ev.ID, "run_id", run.RunID, "job", run.JobName, "reason", decision.Reason)
			continue
		}

		logger.Debug("reacting to event",
			"record_id", ev.ID, "run_id", run.RunID, "job", run.JobName, "reason", decision.Reason)

		event := ev
		result.Cursor = next
		result.State = StateDone
		result.Event = &event

		c := BuildContext(def.Name, run, event, WithInstance(e.instance), WithContextLogger(e.logger))
		outputs, err := Invoke(def.Name, def.reaction, c)
		if err != nil {
			var ee *EvaluationError
			if !errors.As(err, &ee) {
				ee = &EvaluationError{Code: ErrCodeEvaluation, Sensor: def.Name, Info: ir.ErrorInfoFromError(err), Err: err}
			}
			logger.Warn("sensor reaction failed",
				"record_id", ev.ID, "run_id", run.RunID, "panicked", ee.Panicked, "error", ee.Err)
			result.Outputs = []Output{RunReaction{Run: run, Status: def.RunStatus, Error: ee.Info}}
			return result, nil
		}

		if outputs == nil {
			result.Outputs = []Output{RunReaction{Run: run, Status: def.RunStatus}}
			return result, nil
		}

		checked, err := def.checkRunRequests(outputs)
		if err != nil {
			logger.Warn("sensor requested an undeclared job",
				"record_id", ev.ID, "run_id", run.RunID, "error", err)
			result.Outputs = []Output{RunReaction{Run: run, Status: def.RunStatus, Error: ir.ErrorInfoFromError(err)}}
			return result, nil
		}
		result.Outputs = checked
		return result, nil
	}

	return result, nil
}

// bootstrap initializes the cursor to the newest event of the monitored type
// so that history is not replayed.
func (e *Evaluator) bootstrap(ctx context.Context, def *Definition, logger *slog.Logger, hadCursor bool) (TickResult, error) {
	latest, found, err := e.events.LatestEventID(ctx, def.EventType)
	if err != nil {
		return TickResult{}, fmt.Errorf("evaluate %s: latest %s event: %w", def.Name, def.EventType, err)
	}
	if !found {
		latest = -1
	}

	c := cursor.New(latest, e.clock.Now())
	logger.Info("initializing sensor cursor", "record_id", latest, "replaced_invalid_cursor", hadCursor)

	return TickResult{
		Sensor:  def.Name,
		State:   StateBootstrapping,
		Outputs: []Output{SkipReason{Message: fmt.Sprintf("Initiating %s. Set cursor to %s", def.Name, c)}},
		Cursor:  cursor.Encode(c),
	}, nil
}

func (e *Evaluator) checkpoint(ctx context.Context, sensorName, encoded string) error {
	if err := e.cursors.PutCursor(ctx, sensorName, encoded); err != nil {
		return fmt.Errorf("evaluate %s: checkpoint cursor: %w", sensorName, err)
	}
	return nil
}

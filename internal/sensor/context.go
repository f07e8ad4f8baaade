package sensor

import (
	"log/slog"

	"github.com/henriblancke/dagster/internal/ir"
)

// Context is handed to a reaction for the run status event it reacts to.
type Context struct {
	sensorName string
	run        ir.RunRecord
	event      ir.Event
	instance   Instance
	logger     *slog.Logger
}

// ContextOption configures BuildContext.
type ContextOption func(*Context)

// WithInstance sets the stores reachable through Context.Instance.
func WithInstance(inst Instance) ContextOption {
	return func(c *Context) { c.instance = inst }
}

// WithContextLogger sets the base logger of the context.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *Context) { c.logger = logger }
}

// BuildContext constructs a Context, mainly for invoking a definition
// directly from tests:
//
//	ctx := sensor.BuildContext("notify_on_failure", run, event)
//	outputs, err := def.Invoke(ctx)
func BuildContext(sensorName string, run ir.RunRecord, event ir.Event, opts ...ContextOption) *Context {
	c := &Context{
		sensorName: sensorName,
		run:        run,
		event:      event,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("sensor", sensorName, "run_id", run.RunID)
	return c
}

// SensorName returns the name of the sensor being evaluated.
func (c *Context) SensorName() string { return c.sensorName }

// Run returns the run whose status event is being processed.
func (c *Context) Run() ir.RunRecord { return c.run }

// Event returns the run status event being processed.
func (c *Context) Event() ir.Event { return c.event }

// Instance returns the stores, or nil when the context was built without
// them.
func (c *Context) Instance() Instance { return c.instance }

// Log returns a logger scoped to the sensor and run.
func (c *Context) Log() *slog.Logger { return c.logger }

// ForRunFailure converts c into the context of a run failure sensor.
func (c *Context) ForRunFailure() *FailureContext {
	return &FailureContext{Context: c}
}

// FailureContext is handed to the reaction of a run failure sensor.
type FailureContext struct {
	*Context
}

// FailureEvent returns the RUN_FAILURE event of the failed run.
func (c *FailureContext) FailureEvent() ir.Event { return c.event }

package sensor

import (
	"slices"

	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/scope"
)

// DefaultMinimumIntervalSeconds is the minimum spacing of two ticks of a
// sensor unless configured otherwise.
const DefaultMinimumIntervalSeconds = 30

// Definition is an immutable run status sensor.
//
// Construct definitions with NewRunStatusSensor or NewRunFailureSensor; the
// reaction is resolved and the definition validated there.
type Definition struct {
	Name      string       `json:"name" validate:"required,max=255,sensor_name"`
	RunStatus ir.RunStatus `json:"run_status" validate:"required,run_status"`
	EventType ir.EventType `json:"event_type"`
	Scope     scope.Scope  `json:"scope"`

	MinimumIntervalSeconds int             `json:"minimum_interval_seconds" validate:"gte=1"`
	Description            string          `json:"description,omitempty" validate:"max=4096"`
	DefaultStatus          ir.SensorStatus `json:"default_status" validate:"oneof=RUNNING STOPPED"`

	// RequestJobs lists the jobs a RunRequest may target. Empty means any
	// job named by the request.
	RequestJobs []string `json:"request_jobs,omitempty" validate:"dive,required"`

	reaction Reaction
}

// Option configures a definition under construction.
type Option func(*options)

type options struct {
	allRepositories bool
	targets         []scope.Target
	minimumInterval int
	description     string
	defaultStatus   ir.SensorStatus
	requestJobs     []string
}

// WithMonitoredJobs restricts the sensor to the given jobs and selectors.
func WithMonitoredJobs(targets ...scope.Target) Option {
	return func(o *options) { o.targets = append(o.targets, targets...) }
}

// MonitorAllRepositories makes the sensor react to runs of every repository.
func MonitorAllRepositories() Option {
	return func(o *options) { o.allRepositories = true }
}

// WithMinimumInterval sets the minimum number of seconds between ticks.
func WithMinimumInterval(seconds int) Option {
	return func(o *options) { o.minimumInterval = seconds }
}

// WithDescription sets a human readable description.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// WithDefaultStatus sets whether the sensor runs before being toggled.
func WithDefaultStatus(status ir.SensorStatus) Option {
	return func(o *options) { o.defaultStatus = status }
}

// WithRequestJobs declares the jobs the sensor's run requests may target.
func WithRequestJobs(jobs ...string) Option {
	return func(o *options) { o.requestJobs = append(o.requestJobs, jobs...) }
}

// NewRunStatusSensor builds a sensor that reacts to runs reaching status.
//
// fn must be one of the shapes accepted by ResolveReaction. The
// *FailureContext shape is only accepted for the FAILURE status.
func NewRunStatusSensor(name string, status ir.RunStatus, fn any, opts ...Option) (*Definition, error) {
	o := options{
		minimumInterval: DefaultMinimumIntervalSeconds,
		defaultStatus:   ir.SensorStatusStopped,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s, err := scope.New(o.allRepositories, o.targets...)
	if err != nil {
		return nil, newDefinitionError(name, "monitored_jobs", "invalid scope", err)
	}

	if isFailureReaction(fn) && status != ir.RunStatusFailure {
		return nil, newDefinitionError(name, "reaction",
			"a *FailureContext reaction requires run status FAILURE, got "+string(status), nil)
	}
	r, err := ResolveReaction(fn)
	if err != nil {
		return nil, newDefinitionError(name, "reaction", "invalid reaction", err)
	}

	d := &Definition{
		Name:                   name,
		RunStatus:              status,
		Scope:                  s,
		MinimumIntervalSeconds: o.minimumInterval,
		Description:            o.description,
		DefaultStatus:          o.defaultStatus,
		RequestJobs:            slices.Clone(o.requestJobs),
		reaction:               r,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.EventType, _ = ir.EventTypeForStatus(status)
	return d, nil
}

// NewRunFailureSensor builds a sensor that reacts to failed runs. The
// reaction receives a *FailureContext.
func NewRunFailureSensor(name string, fn func(*FailureContext) ([]Output, error), opts ...Option) (*Definition, error) {
	if fn == nil {
		return nil, newDefinitionError(name, "reaction", "invalid reaction", nil)
	}
	return NewRunStatusSensor(name, ir.RunStatusFailure, fn, opts...)
}

// Validate checks the definition's fields.
func (d *Definition) Validate() error {
	if d.reaction == nil {
		return newDefinitionError(d.Name, "reaction", "definition has no reaction", nil)
	}
	if err := validateDefinition(d); err != nil {
		return err
	}
	if err := d.Scope.Validate(); err != nil {
		return newDefinitionError(d.Name, "monitored_jobs", "invalid scope", err)
	}
	return nil
}

// Reaction returns the resolved reaction.
func (d *Definition) Reaction() Reaction { return d.reaction }

// Invoke calls the reaction directly, without the tick machinery or its
// error boundary. Errors and panics of the reaction propagate to the caller.
//
// A context reaction takes exactly one *Context or *FailureContext argument.
// A reaction without parameters takes none. Any other arity returns an
// *InvalidInvocationError.
func (d *Definition) Invoke(args ...any) ([]Output, error) {
	if !d.reaction.TakesContext() {
		if len(args) > 0 {
			return nil, newInvocationError(d.Name,
				"reaction has no parameters, but %d argument(s) were provided to invocation", len(args))
		}
		return d.reaction.call(nil)
	}

	switch len(args) {
	case 0:
		return nil, newInvocationError(d.Name,
			"reaction expected a context argument, but no context argument was provided when invoking")
	case 1:
	default:
		return nil, newInvocationError(d.Name,
			"invocation received %d arguments; only a single context argument should be provided", len(args))
	}

	var c *Context
	switch arg := args[0].(type) {
	case *Context:
		c = arg
	case *FailureContext:
		if arg != nil {
			c = arg.Context
		}
	case nil:
	default:
		return nil, newInvocationError(d.Name, "expected a *sensor.Context argument, got %T", args[0])
	}
	if c == nil {
		return nil, newInvocationError(d.Name, "context must be provided for direct invocation")
	}
	return d.reaction.call(c)
}

// checkRunRequests fills in the job of requests that omit it when exactly one
// request job is declared, and rejects requests for undeclared jobs.
func (d *Definition) checkRunRequests(outputs []Output) ([]Output, error) {
	checked := make([]Output, 0, len(outputs))
	for _, o := range outputs {
		req, ok := o.(RunRequest)
		if !ok {
			checked = append(checked, o)
			continue
		}
		switch {
		case req.JobName == "" && len(d.RequestJobs) == 1:
			req.JobName = d.RequestJobs[0]
		case req.JobName == "":
			return nil, &RunRequestError{
				Code:    ErrCodeRunRequest,
				Sensor:  d.Name,
				Message: "RunRequest does not name a job and the sensor has no single request job",
			}
		case len(d.RequestJobs) > 0 && !slices.Contains(d.RequestJobs, req.JobName):
			return nil, &RunRequestError{
				Code:    ErrCodeRunRequest,
				Sensor:  d.Name,
				JobName: req.JobName,
				Message: "RunRequest targets job \"" + req.JobName + "\" which is not one of the sensor's request jobs",
			}
		}
		checked = append(checked, req)
	}
	return checked, nil
}

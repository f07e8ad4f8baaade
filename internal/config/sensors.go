package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/henriblancke/dagster/internal/ir"
	"github.com/henriblancke/dagster/internal/scope"
	"github.com/henriblancke/dagster/internal/sensor"
)

// Reaction actions.
const (
	ActionLog        = "log"
	ActionSkip       = "skip"
	ActionRequestJob = "request_job"
	ActionFail       = "fail"
)

// SourceRunTag is set on run requests to the id of the run that triggered
// them.
const SourceRunTag = "sensord/source_run_id"

// Target resolves the entry into a scope target:
//
//	job                       a job of the current repository
//	job, location[, repo]     a job of another repository
//	location                  the default repository of a code location
//	location, repository      every job of a repository
func (t TargetConfig) Target() (scope.Target, error) {
	switch {
	case t.Job == "" && t.Location == "" && t.Repository == "":
		return nil, errors.New("target needs a job or a location")
	case t.Location == "" && t.Repository != "":
		return nil, fmt.Errorf("repository %q needs a location", t.Repository)
	case t.Job != "" && t.Location == "":
		return scope.Job(t.Job), nil
	case t.Job != "":
		repo := t.Repository
		if repo == "" {
			repo = scope.DefaultRepositoryName
		}
		return scope.JobSelector{Location: t.Location, Repository: repo, Job: t.Job}, nil
	case t.Repository != "":
		return scope.RepositorySelector{Location: t.Location, Repository: t.Repository}, nil
	default:
		return scope.CodeLocationSelector{Location: t.Location}, nil
	}
}

// Definition builds the sensor declared by s.
func (s SensorConfig) Definition() (*sensor.Definition, error) {
	opts := []sensor.Option{
		sensor.WithDescription(s.Description),
		sensor.WithDefaultStatus(ir.SensorStatus(s.DefaultStatus)),
	}
	if s.MinimumIntervalSeconds != 0 {
		opts = append(opts, sensor.WithMinimumInterval(s.MinimumIntervalSeconds))
	}
	if len(s.RequestJobs) > 0 {
		opts = append(opts, sensor.WithRequestJobs(s.RequestJobs...))
	}
	if s.MonitorAllRepositories {
		opts = append(opts, sensor.MonitorAllRepositories())
	}
	targets := make([]scope.Target, 0, len(s.MonitoredJobs))
	for i, t := range s.MonitoredJobs {
		target, err := t.Target()
		if err != nil {
			return nil, fmt.Errorf("sensor %q: monitored_jobs.%d: %w", s.Name, i, err)
		}
		targets = append(targets, target)
	}
	if len(targets) > 0 {
		opts = append(opts, sensor.WithMonitoredJobs(targets...))
	}

	fn, err := s.Reaction.build()
	if err != nil {
		return nil, fmt.Errorf("sensor %q: %w", s.Name, err)
	}
	return sensor.NewRunStatusSensor(s.Name, ir.RunStatus(s.RunStatus), fn, opts...)
}

// Definitions builds every configured sensor.
func (c *Config) Definitions() ([]*sensor.Definition, error) {
	defs := make([]*sensor.Definition, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		def, err := s.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Registry builds a registry holding every configured sensor.
func (c *Config) Registry() (*sensor.Registry, error) {
	defs, err := c.Definitions()
	if err != nil {
		return nil, err
	}
	reg := sensor.NewRegistry()
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r ReactionConfig) build() (func(*sensor.Context) ([]sensor.Output, error), error) {
	switch r.Action {
	case ActionLog:
		return func(c *sensor.Context) ([]sensor.Output, error) {
			run := c.Run()
			c.Log().Info(expand(r.messageOr("run {run_id} of job {job} reached {status}"), c),
				"job", run.JobName, "status", run.Status)
			return nil, nil
		}, nil
	case ActionSkip:
		return func(c *sensor.Context) ([]sensor.Output, error) {
			return sensor.Skip("%s", expand(r.messageOr("ignoring run {run_id} of job {job}"), c))
		}, nil
	case ActionRequestJob:
		return func(c *sensor.Context) ([]sensor.Output, error) {
			tags := make(map[string]string, len(r.Tags)+1)
			for k, v := range r.Tags {
				tags[k] = expand(v, c)
			}
			tags[SourceRunTag] = c.Run().RunID
			return []sensor.Output{sensor.RunRequest{
				RunKey:  c.Run().RunID,
				JobName: r.Job,
				Tags:    tags,
			}}, nil
		}, nil
	case ActionFail:
		return func(c *sensor.Context) ([]sensor.Output, error) {
			return nil, errors.New(expand(r.messageOr("reaction failed for run {run_id}"), c))
		}, nil
	default:
		return nil, fmt.Errorf("unknown reaction action %q", r.Action)
	}
}

func (r ReactionConfig) messageOr(fallback string) string {
	if r.Message != "" {
		return r.Message
	}
	return fallback
}

// expand replaces the {run_id}, {job}, {status} and {sensor} placeholders.
func expand(text string, c *sensor.Context) string {
	run := c.Run()
	return strings.NewReplacer(
		"{run_id}", run.RunID,
		"{job}", run.JobName,
		"{status}", string(run.Status),
		"{sensor}", c.SensorName(),
	).Replace(text)
}

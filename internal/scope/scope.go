// Package scope decides which runs a sensor is interested in.
//
// A sensor monitors either every repository or an explicit list of targets.
// Targets name jobs of the sensor's own (current) repository, or select jobs
// and whole repositories that live in other code locations.
package scope

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultRepositoryName is the repository name a code location selector is
// coerced to.
const DefaultRepositoryName = "__repository__"

// ErrInvalidScope is returned when a scope combines AllRepositories with
// explicit targets.
var ErrInvalidScope = errors.New("invalid scope")

// Target is one entry of a sensor's monitored list. It is a closed set:
// Job, JobSelector, RepositorySelector and CodeLocationSelector.
type Target interface {
	isTarget()
}

// Job names a job of the current repository.
type Job string

// JobSelector selects a single job in another repository.
type JobSelector struct {
	Location   string `json:"location" yaml:"location"`
	Repository string `json:"repository" yaml:"repository"`
	Job        string `json:"job" yaml:"job"`
}

// RepositorySelector selects every job of a repository.
type RepositorySelector struct {
	Location   string `json:"location" yaml:"location"`
	Repository string `json:"repository" yaml:"repository"`
}

// CodeLocationSelector selects the default repository of a code location.
type CodeLocationSelector struct {
	Location string `json:"location" yaml:"location"`
}

// RepositorySelector coerces s to a selector for the location's default
// repository.
func (s CodeLocationSelector) RepositorySelector() RepositorySelector {
	return RepositorySelector{Location: s.Location, Repository: DefaultRepositoryName}
}

func (Job) isTarget() {}
func (JobSelector) isTarget() {}
func (RepositorySelector) isTarget() {}
func (CodeLocationSelector) isTarget() {}

// Scope is the resolved interest scope of one sensor.
//
// INVARIANT: AllRepositories is never combined with any of the lists.
type Scope struct {
	AllRepositories bool `json:"all_repositories,omitempty"`

	// CurrentJobs lists job names of the current repository.
	CurrentJobs []string `json:"current_jobs,omitempty"`

	// ExternalJobs and ExternalRepositories select runs of other
	// repositories.
	ExternalJobs         []JobSelector        `json:"external_jobs,omitempty"`
	ExternalRepositories []RepositorySelector `json:"external_repositories,omitempty"`
}

// New resolves a monitored target list into a Scope.
//
// Code location selectors are coerced to repository selectors. All names are
// NFC normalized. Returns ErrInvalidScope (wrapped) when allRepositories is
// set together with targets.
func New(allRepositories bool, targets ...Target) (Scope, error) {
	if allRepositories && len(targets) > 0 {
		return Scope{}, fmt.Errorf("%w: monitor_all_repositories cannot be combined with %d monitored target(s)",
			ErrInvalidScope, len(targets))
	}

	s := Scope{AllRepositories: allRepositories}
	for i, t := range targets {
		switch t := t.(type) {
		case Job:
			if t == "" {
				return Scope{}, fmt.Errorf("%w: target %d: empty job name", ErrInvalidScope, i)
			}
			s.CurrentJobs = append(s.CurrentJobs, string(t))
		case JobSelector:
			if t.Location == "" || t.Repository == "" || t.Job == "" {
				return Scope{}, fmt.Errorf("%w: target %d: job selector needs location, repository and job",
					ErrInvalidScope, i)
			}
			s.ExternalJobs = append(s.ExternalJobs, t)
		case RepositorySelector:
			if t.Location == "" || t.Repository == "" {
				return Scope{}, fmt.Errorf("%w: target %d: repository selector needs location and repository",
					ErrInvalidScope, i)
			}
			s.ExternalRepositories = append(s.ExternalRepositories, t)
		case CodeLocationSelector:
			if t.Location == "" {
				return Scope{}, fmt.Errorf("%w: target %d: code location selector needs a location", ErrInvalidScope, i)
			}
			s.ExternalRepositories = append(s.ExternalRepositories, t.RepositorySelector())
		case nil:
			return Scope{}, fmt.Errorf("%w: target %d is nil", ErrInvalidScope, i)
		default:
			return Scope{}, fmt.Errorf("%w: target %d has unsupported type %T", ErrInvalidScope, i, t)
		}
	}
	return s.Normalize(), nil
}

// All returns the scope that monitors every repository.
func All() Scope {
	return Scope{AllRepositories: true}
}

// Validate checks the mutual exclusion of AllRepositories and targets.
func (s Scope) Validate() error {
	if s.AllRepositories && s.HasMonitoredJobs() {
		return fmt.Errorf("%w: monitor_all_repositories cannot be combined with monitored jobs", ErrInvalidScope)
	}
	return nil
}

// HasMonitoredJobs reports whether any explicit target was given.
func (s Scope) HasMonitoredJobs() bool {
	return len(s.CurrentJobs) > 0 || len(s.ExternalJobs) > 0 || len(s.ExternalRepositories) > 0
}

// Normalize returns a copy of s with every name NFC normalized.
func (s Scope) Normalize() Scope {
	out := Scope{AllRepositories: s.AllRepositories}
	for _, j := range s.CurrentJobs {
		out.CurrentJobs = append(out.CurrentJobs, normalizeName(j))
	}
	for _, j := range s.ExternalJobs {
		out.ExternalJobs = append(out.ExternalJobs, JobSelector{
			Location:   normalizeName(j.Location),
			Repository: normalizeName(j.Repository),
			Job:        normalizeName(j.Job),
		})
	}
	for _, r := range s.ExternalRepositories {
		out.ExternalRepositories = append(out.ExternalRepositories, RepositorySelector{
			Location:   normalizeName(r.Location),
			Repository: normalizeName(r.Repository),
		})
	}
	return out
}

// String renders the scope for logs and the CLI.
func (s Scope) String() string {
	if s.AllRepositories {
		return "all repositories"
	}
	if !s.HasMonitoredJobs() {
		return "current repository"
	}
	parts := make([]string, 0, len(s.CurrentJobs)+len(s.ExternalJobs)+len(s.ExternalRepositories))
	parts = append(parts, s.CurrentJobs...)
	for _, j := range s.ExternalJobs {
		parts = append(parts, fmt.Sprintf("%s@%s:%s", j.Job, j.Repository, j.Location))
	}
	for _, r := range s.ExternalRepositories {
		parts = append(parts, fmt.Sprintf("%s:%s", r.Repository, r.Location))
	}
	return strings.Join(parts, ", ")
}

func normalizeName(s string) string {
	return norm.NFC.String(s)
}

func containsName(names []string, name string) bool {
	return slices.Contains(names, normalizeName(name))
}

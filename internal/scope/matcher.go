package scope

import (
	"github.com/henriblancke/dagster/internal/ir"
)

// Reason explains a match decision. It is logged at debug level.
type Reason string

const (
	ReasonAllRepositories    Reason = "monitoring all repositories"
	ReasonNoOrigin           Reason = "run has no repository origin"
	ReasonCurrentRepository  Reason = "run is in the current repository"
	ReasonCurrentJob         Reason = "job is monitored in the current repository"
	ReasonExternalJob        Reason = "job matches an external job selector"
	ReasonExternalRepository Reason = "repository matches an external repository selector"
	ReasonNotMonitored       Reason = "run is outside the monitored scope"
)

// Decision is the result of matching a run against a scope.
type Decision struct {
	Match  bool
	Reason Reason
}

// Match decides whether run belongs to s.
//
// current is the origin of the repository the sensor is defined in. The
// current repository is recognized by repository name alone. The decision is
// taken in order:
//  1. AllRepositories matches every run
//  2. A run without origin never matches
//  3. A run of the current repository matches when s has no monitored jobs at
//     all, or when its job is one of CurrentJobs
//  4. Otherwise the run's (location, repository, job) must equal an external
//     job selector, or its (location, repository) an external repository
//     selector
func Match(s Scope, run ir.RunRecord, current ir.RepositoryOrigin) Decision {
	if s.AllRepositories {
		return Decision{Match: true, Reason: ReasonAllRepositories}
	}
	if run.Origin == nil {
		return Decision{Match: false, Reason: ReasonNoOrigin}
	}

	origin := run.Origin
	if normalizeName(origin.Repository) == normalizeName(current.Repository) {
		if !s.HasMonitoredJobs() {
			return Decision{Match: true, Reason: ReasonCurrentRepository}
		}
		if containsName(s.CurrentJobs, run.JobName) {
			return Decision{Match: true, Reason: ReasonCurrentJob}
		}
	}

	location := normalizeName(origin.Location)
	repository := normalizeName(origin.Repository)
	job := normalizeName(run.JobName)

	for _, sel := range s.ExternalJobs {
		if sel.Location == location && sel.Repository == repository && sel.Job == job {
			return Decision{Match: true, Reason: ReasonExternalJob}
		}
	}
	for _, sel := range s.ExternalRepositories {
		if sel.Location == location && sel.Repository == repository {
			return Decision{Match: true, Reason: ReasonExternalRepository}
		}
	}
	return Decision{Match: false, Reason: ReasonNotMonitored}
}

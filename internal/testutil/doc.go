// Package testutil provides deterministic collaborators for tests: a settable
// clock, sequential id generators and an in-memory event, run and cursor
// store with failure injection.
package testutil

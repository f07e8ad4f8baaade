// Package sensor implements run status sensors: definitions that watch the
// event log for run lifecycle events and react to them.
//
// The package has no storage or scheduling of its own. An Evaluator performs
// exactly one tick of one sensor against the collaborators it is given
// (EventReader, RunReader, CursorStore) and returns the tick's outputs and
// the cursor to commit. Scheduling, pacing and durable tick history belong to
// the driver in internal/daemon.
//
// Tick algorithm (Evaluator.Evaluate):
//
//  1. Without a valid cursor the sensor bootstraps: the cursor is set to the
//     newest event of the monitored type (or -1) and history is skipped.
//  2. Otherwise up to BatchSize events after the cursor are scanned in
//     storage order. Events whose run is unknown or out of scope only move
//     the cursor forward (checkpointed after each one).
//  3. The first matching event invokes the reaction exactly once, inside an
//     error boundary. The tick stops there.
//
// CRITICAL: user reactions never propagate failures past the tick. Errors and
// panics become a RunReaction carrying the error.
package sensor

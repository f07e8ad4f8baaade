// Package daemon drives sensor ticks.
//
// The Daemon owns the tick lifecycle around sensor.Evaluator.Evaluate:
//   - Scheduling: every RUNNING sensor is ticked at most once per its minimum
//     interval (a golang.org/x/time/rate limiter per sensor)
//   - Serialization: ticks of one sensor never overlap (per-sensor mutex,
//     TryLock); distinct sensors tick concurrently
//   - Persistence: the tick record and the deciding cursor are committed
//     together (store.CommitTick) or, with a separate cursor backend, the
//     tick record first and the cursor second
//   - Reporting: a successful RunReaction appends an ENGINE_EVENT to the
//     source run's log
//
// Store failures never stop the loop. They are logged, recorded as a
// FAILURE tick when possible, and the sensor is retried on a later
// iteration.
package daemon

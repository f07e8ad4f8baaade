// Package store provides SQLite-backed durable storage for the sensor engine.
//
// The store holds:
//   - Runs: run records with their repository origin
//   - Event log: append-only run lifecycle events
//   - Sensor cursors: one opaque resume position per sensor
//   - Sensor ticks: tick history written by the driver
//   - Sensor states: externally toggled RUNNING/STOPPED status
//
// # Critical Patterns
//
// Storage ids define order
//   - event_logs.id is AUTOINCREMENT: strictly increasing, never reused
//   - All multi-row queries ORDER BY an INTEGER id, NEVER by timestamps
//
// Atomic commits
//   - ReportRunStatus updates the run and appends its event in one transaction
//   - CommitTick writes the tick record and the cursor in one transaction
//
// Empty results
//   - List queries return empty slices, never nil
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// *Store satisfies sensor.EventReader, sensor.RunReader and
// sensor.CursorStore.
package store

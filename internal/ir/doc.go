// Package ir provides the shared record types for the sensor engine.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the event, run and tick
// records as the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Events are ordered by their storage ID, never by wall-clock timestamps
//   - A run with a nil Origin was launched outside any repository
//   - All JSON tags use snake_case
package ir

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/henriblancke/dagster/internal/ir"
)

// AppendEvent appends ev to the event log and returns it with its assigned
// storage id. ev.ID is ignored.
func (s *Store) AppendEvent(ctx context.Context, ev ir.Event) (ir.Event, error) {
	id, err := insertEvent(ctx, s.db, ev)
	if err != nil {
		return ir.Event{}, fmt.Errorf("append event: %w", err)
	}
	ev.ID = id
	ev.Timestamp = ev.Timestamp.UTC()
	return ev, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, ev ir.Event) (int64, error) {
	if ev.Type == "" {
		return 0, errors.New("event type is required")
	}
	if ev.RunID == "" {
		return 0, errors.New("event run id is required")
	}
	result, err := db.ExecContext(ctx, `
		INSERT INTO event_logs (run_id, event_type, job_name, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`,
		ev.RunID,
		string(ev.Type),
		ev.JobName,
		ev.Message,
		toNanos(ev.Timestamp),
	)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// EventRecords returns the events selected by filter, ordered by storage id
// in the requested direction. An empty Type selects every event type and a
// non-positive Limit returns the whole window.
//
// Returns empty slice (not nil) if no events match.
func (s *Store) EventRecords(ctx context.Context, filter ir.EventFilter) ([]ir.Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.AfterID >= 0 {
		where = append(where, "id > ?")
		args = append(args, filter.AfterID)
	}

	query := "SELECT id, run_id, event_type, job_name, message, timestamp FROM event_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Ascending {
		query += " ORDER BY id ASC"
	} else {
		query += " ORDER BY id DESC"
	}
	// SQLite treats a negative LIMIT as "no limit".
	limit := int64(filter.Limit)
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}

// LatestEventID returns the storage id of the newest event of type t.
func (s *Store) LatestEventID(ctx context.Context, t ir.EventType) (int64, bool, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(id) FROM event_logs WHERE event_type = ?
	`, string(t)).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("latest %s event: %w", t, err)
	}
	if !id.Valid {
		return 0, false, nil
	}
	return id.Int64, true, nil
}

// EventsForRun returns every event of one run in log order.
//
// Returns empty slice (not nil) if the run has no events.
func (s *Store) EventsForRun(ctx context.Context, runID string) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, event_type, job_name, message, timestamp
		FROM event_logs
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events for run %s: %w", runID, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("query events for run %s: %w", runID, err)
	}
	return events, nil
}

func scanEvents(rows *sql.Rows) ([]ir.Event, error) {
	events := []ir.Event{}
	for rows.Next() {
		var (
			ev        ir.Event
			eventType string
			ts        int64
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &eventType, &ev.JobName, &ev.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = ir.EventType(eventType)
		ev.Timestamp = fromNanos(ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// engineEventMessage formats the ENGINE_EVENT appended when a sensor reacts
// to a run.
func engineEventMessage(sensorName string, status ir.RunStatus, runID string) string {
	return fmt.Sprintf("Sensor %q acted on run status %s of run %s.", sensorName, status, runID)
}

// ReportEngineEvent appends an ENGINE_EVENT to the log of run recording that
// sensorName reacted to it.
func (s *Store) ReportEngineEvent(ctx context.Context, sensorName string, run ir.RunRecord, status ir.RunStatus, at time.Time) (ir.Event, error) {
	ev, err := s.AppendEvent(ctx, ir.Event{
		Type:      ir.EventTypeEngineEvent,
		RunID:     run.RunID,
		JobName:   run.JobName,
		Message:   engineEventMessage(sensorName, status, run.RunID),
		Timestamp: at,
	})
	if err != nil {
		return ir.Event{}, fmt.Errorf("report engine event: %w", err)
	}
	return ev, nil
}

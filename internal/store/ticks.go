package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/henriblancke/dagster/internal/ir"
)

// RecordTick inserts a tick record and returns its auto-generated id.
// A zero Timestamp is replaced by the store clock.
func (s *Store) RecordTick(ctx context.Context, tick ir.TickRecord) (int64, error) {
	id, err := s.insertTick(ctx, s.db, tick)
	if err != nil {
		return 0, fmt.Errorf("record tick: %w", err)
	}
	return id, nil
}

// CommitTick inserts a tick record and replaces the sensor cursor with
// tick.Cursor in one transaction. An empty tick.Cursor leaves the stored
// cursor untouched.
//
// CRITICAL: this is the commit point of a tick. Outputs and cursor become
// visible together or not at all.
func (s *Store) CommitTick(ctx context.Context, tick ir.TickRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("commit tick: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	id, err := s.insertTick(ctx, tx, tick)
	if err != nil {
		return 0, fmt.Errorf("commit tick: %w", err)
	}

	if tick.Cursor != "" {
		if err := putCursor(ctx, tx, tick.SensorName, tick.Cursor, toNanos(s.now())); err != nil {
			return 0, fmt.Errorf("commit tick: put cursor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tick: commit: %w", err)
	}
	return id, nil
}

func (s *Store) insertTick(ctx context.Context, db execer, tick ir.TickRecord) (int64, error) {
	if tick.TickID == "" {
		return 0, errors.New("tick id is required")
	}
	if tick.SensorName == "" {
		return 0, errors.New("sensor name is required")
	}

	errJSON, err := marshalErrorInfo(tick.Error)
	if err != nil {
		return 0, err
	}
	outputs := tick.Outputs
	if outputs == "" {
		outputs = "[]"
	}
	ts := tick.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO sensor_ticks
		(tick_id, sensor_name, status, cursor, skip_reason, error, outputs, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tick.TickID,
		tick.SensorName,
		string(tick.Status),
		tick.Cursor,
		tick.SkipReason,
		errJSON,
		outputs,
		toNanos(ts),
	)
	if err != nil {
		return 0, fmt.Errorf("insert tick %s: %w", tick.TickID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert tick %s: last insert id: %w", tick.TickID, err)
	}
	return id, nil
}

// Ticks returns the newest ticks of a sensor, newest first. A non-positive
// limit returns the whole history.
//
// Returns empty slice (not nil) if the sensor has no ticks.
func (s *Store) Ticks(ctx context.Context, sensorName string, limit int) ([]ir.TickRecord, error) {
	n := int64(limit)
	if n <= 0 {
		n = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tick_id, sensor_name, status, cursor, skip_reason, error, outputs, timestamp
		FROM sensor_ticks
		WHERE sensor_name = ?
		ORDER BY id DESC
		LIMIT ?
	`, sensorName, n)
	if err != nil {
		return nil, fmt.Errorf("query ticks %s: %w", sensorName, err)
	}
	defer rows.Close()

	ticks := []ir.TickRecord{}
	for rows.Next() {
		tick, err := scanTick(rows)
		if err != nil {
			return nil, fmt.Errorf("query ticks %s: %w", sensorName, err)
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks %s: %w", sensorName, err)
	}
	return ticks, nil
}

// LatestTick returns the newest tick of a sensor, or ErrNotFound.
func (s *Store) LatestTick(ctx context.Context, sensorName string) (ir.TickRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tick_id, sensor_name, status, cursor, skip_reason, error, outputs, timestamp
		FROM sensor_ticks
		WHERE sensor_name = ?
		ORDER BY id DESC
		LIMIT 1
	`, sensorName)
	tick, err := scanTick(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.TickRecord{}, fmt.Errorf("latest tick %s: %w", sensorName, ErrNotFound)
	}
	if err != nil {
		return ir.TickRecord{}, fmt.Errorf("latest tick %s: %w", sensorName, err)
	}
	return tick, nil
}

func scanTick(row rowScanner) (ir.TickRecord, error) {
	var (
		tick   ir.TickRecord
		status string
		errCol sql.NullString
		ts     int64
	)
	if err := row.Scan(&tick.ID, &tick.TickID, &tick.SensorName, &status, &tick.Cursor,
		&tick.SkipReason, &errCol, &tick.Outputs, &ts); err != nil {
		return ir.TickRecord{}, err
	}
	tick.Status = ir.TickStatus(status)
	tick.Timestamp = fromNanos(ts)
	if errCol.Valid {
		info, err := unmarshalErrorInfo(&errCol.String)
		if err != nil {
			return ir.TickRecord{}, err
		}
		tick.Error = info
	}
	return tick, nil
}

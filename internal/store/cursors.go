package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Cursor returns the stored cursor of a sensor. The bool is false when the
// sensor has never persisted one.
func (s *Store) Cursor(ctx context.Context, sensorName string) (string, bool, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `
		SELECT cursor FROM sensor_cursors WHERE sensor_name = ?
	`, sensorName).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cursor %s: %w", sensorName, err)
	}
	return cursor, true, nil
}

// PutCursor replaces the stored cursor of a sensor. The value is opaque to
// the store; it is never validated here.
func (s *Store) PutCursor(ctx context.Context, sensorName, cursor string) error {
	if err := putCursor(ctx, s.db, sensorName, cursor, toNanos(s.now())); err != nil {
		return fmt.Errorf("put cursor %s: %w", sensorName, err)
	}
	return nil
}

func putCursor(ctx context.Context, db execer, sensorName, cursor string, updatedAt int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sensor_cursors (sensor_name, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(sensor_name) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, sensorName, cursor, updatedAt)
	return err
}

// DeleteCursor removes the stored cursor of a sensor so that its next tick
// bootstraps. Deleting a missing cursor returns ErrNotFound.
func (s *Store) DeleteCursor(ctx context.Context, sensorName string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sensor_cursors WHERE sensor_name = ?
	`, sensorName)
	if err != nil {
		return fmt.Errorf("delete cursor %s: %w", sensorName, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete cursor %s: rows affected: %w", sensorName, err)
	}
	if n == 0 {
		return fmt.Errorf("delete cursor %s: %w", sensorName, ErrNotFound)
	}
	return nil
}

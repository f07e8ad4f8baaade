package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/henriblancke/dagster/internal/ir"
)

// SensorStatus returns the status toggled for a sensor. The bool is false
// when the sensor was never started or stopped, in which case its
// definition's default status applies.
func (s *Store) SensorStatus(ctx context.Context, sensorName string) (ir.SensorStatus, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM sensor_states WHERE sensor_name = ?
	`, sensorName).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sensor status %s: %w", sensorName, err)
	}
	return ir.SensorStatus(status), true, nil
}

// SetSensorStatus persists an explicit RUNNING or STOPPED toggle.
func (s *Store) SetSensorStatus(ctx context.Context, sensorName string, status ir.SensorStatus) error {
	switch status {
	case ir.SensorStatusRunning, ir.SensorStatusStopped:
	default:
		return fmt.Errorf("set sensor status %s: invalid status %q", sensorName, status)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_states (sensor_name, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(sensor_name) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, sensorName, string(status), toNanos(s.now()))
	if err != nil {
		return fmt.Errorf("set sensor status %s: %w", sensorName, err)
	}
	return nil
}

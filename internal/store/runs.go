package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/henriblancke/dagster/internal/ir"
)

// AddRun inserts a run or replaces the record with the same run id.
func (s *Store) AddRun(ctx context.Context, run ir.RunRecord) error {
	if run.RunID == "" {
		return errors.New("add run: run id is required")
	}
	if run.JobName == "" {
		return fmt.Errorf("add run %s: job name is required", run.RunID)
	}
	if run.Status == "" {
		run.Status = ir.RunStatusNotStarted
	}

	tags, err := marshalTags(run.Tags)
	if err != nil {
		return fmt.Errorf("add run %s: %w", run.RunID, err)
	}

	var location, repository sql.NullString
	if run.Origin != nil {
		location = sql.NullString{String: run.Origin.Location, Valid: true}
		repository = sql.NullString{String: run.Origin.Repository, Valid: true}
	}

	created := run.CreateTimestamp
	if created.IsZero() {
		created = s.now()
	}
	updated := run.UpdateTimestamp
	if updated.IsZero() {
		updated = created
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, job_name, status, location, repository, tags, create_timestamp, update_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			job_name = excluded.job_name,
			status = excluded.status,
			location = excluded.location,
			repository = excluded.repository,
			tags = excluded.tags,
			create_timestamp = excluded.create_timestamp,
			update_timestamp = excluded.update_timestamp
	`,
		run.RunID,
		run.JobName,
		string(run.Status),
		location,
		repository,
		tags,
		toNanos(created),
		toNanos(updated),
	)
	if err != nil {
		return fmt.Errorf("add run %s: %w", run.RunID, err)
	}
	return nil
}

// Run returns the run with the given id. Returns an error wrapping
// ir.ErrRunNotFound when no such run exists.
func (s *Store) Run(ctx context.Context, runID string) (ir.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, job_name, status, location, repository, tags, create_timestamp, update_timestamp
		FROM runs
		WHERE run_id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.RunRecord{}, fmt.Errorf("run %s: %w", runID, ir.ErrRunNotFound)
	}
	if err != nil {
		return ir.RunRecord{}, fmt.Errorf("run %s: %w", runID, err)
	}
	return run, nil
}

// Runs returns every run in insertion order. Replacing a run with AddRun
// keeps its position.
//
// Returns empty slice (not nil) if no runs exist.
func (s *Store) Runs(ctx context.Context) ([]ir.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, job_name, status, location, repository, tags, create_timestamp, update_timestamp
		FROM runs
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("query runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReportRunStatus moves a run to status and appends the matching lifecycle
// event. Both writes happen in one transaction, so a sensor never observes
// the event without the updated run.
func (s *Store) ReportRunStatus(ctx context.Context, runID string, status ir.RunStatus, at time.Time) (ir.Event, error) {
	eventType, err := ir.EventTypeForStatus(status)
	if err != nil {
		return ir.Event{}, fmt.Errorf("report run status %s: %w", runID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Event{}, fmt.Errorf("report run status %s: begin tx: %w", runID, err)
	}
	defer tx.Rollback() // No-op if committed

	var jobName string
	err = tx.QueryRowContext(ctx, `SELECT job_name FROM runs WHERE run_id = ?`, runID).Scan(&jobName)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Event{}, fmt.Errorf("report run status %s: %w", runID, ir.ErrRunNotFound)
	}
	if err != nil {
		return ir.Event{}, fmt.Errorf("report run status %s: load run: %w", runID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, update_timestamp = ? WHERE run_id = ?
	`, string(status), toNanos(at), runID); err != nil {
		return ir.Event{}, fmt.Errorf("report run status %s: update run: %w", runID, err)
	}

	ev := ir.Event{
		Type:      eventType,
		RunID:     runID,
		JobName:   jobName,
		Timestamp: at.UTC(),
	}
	id, err := insertEvent(ctx, tx, ev)
	if err != nil {
		return ir.Event{}, fmt.Errorf("report run status %s: %w", runID, err)
	}
	ev.ID = id

	if err := tx.Commit(); err != nil {
		return ir.Event{}, fmt.Errorf("report run status %s: commit: %w", runID, err)
	}
	return ev, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (ir.RunRecord, error) {
	var (
		run              ir.RunRecord
		status, tags     string
		location, repo   sql.NullString
		created, updated int64
	)
	if err := row.Scan(&run.RunID, &run.JobName, &status, &location, &repo, &tags, &created, &updated); err != nil {
		return ir.RunRecord{}, err
	}
	run.Status = ir.RunStatus(status)
	if location.Valid || repo.Valid {
		run.Origin = &ir.RepositoryOrigin{Location: location.String, Repository: repo.String}
	}
	parsed, err := unmarshalTags(tags)
	if err != nil {
		return ir.RunRecord{}, err
	}
	run.Tags = parsed
	run.CreateTimestamp = fromNanos(created)
	run.UpdateTimestamp = fromNanos(updated)
	return run, nil
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/edge-vision/camctl/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// Repository provides database operations for run history
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Debug("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Debug("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateRun inserts a new run in running state
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return errors.Wrap(err, "failed to encode stages")
	}

	query := `
		INSERT INTO runs (id, device_name, stages, status, durable, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		run.ID, run.DeviceName, string(stages), run.Status, run.Durable, formatTime(run.StartedAt)); err != nil {
		slog.Error("database_insert_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	slog.Debug("database_run_created", "run_id", run.ID, "device_name", run.DeviceName)
	return nil
}

// RecordStage appends a stage outcome to a run
func (r *Repository) RecordStage(ctx context.Context, sr *StageRun) error {
	if sr.FinishedAt.IsZero() {
		sr.FinishedAt = time.Now()
	}

	query := `
		INSERT INTO stage_runs (run_id, stage, position, status, duration_ms, error_message, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		sr.RunID, sr.Stage, sr.Position, sr.Status, sr.Duration.Milliseconds(),
		nullString(sr.ErrorMessage), formatTime(sr.FinishedAt))
	if err != nil {
		slog.Error("database_insert_failed", "run_id", sr.RunID, "stage", sr.Stage, "error", err)
		return errors.Wrap(err, "failed to insert stage run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	sr.ID = id
	return nil
}

// FinishRun stores the terminal state of a run
func (r *Repository) FinishRun(ctx context.Context, id string, res RunResult) error {
	query := `
		UPDATE runs
		SET status = ?, device_id = ?, failed_stage = ?, error_message = ?, session = ?, finished_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		res.Status, nullString(res.DeviceID), nullString(res.FailedStage), nullString(res.ErrorMessage),
		nullString(res.Session), formatTime(time.Now()), id)
	if err != nil {
		slog.Error("database_update_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	slog.Debug("database_run_finished", "run_id", id, "status", res.Status)
	return nil
}

const runColumns = `id, device_name, device_id, stages, status, durable, failed_stage, error_message, session, started_at, finished_at`

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// ListRuns retrieves the most recent runs first. A non-positive limit
// returns every run.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}

// ListStages retrieves the stages recorded for a run in execution order
func (r *Repository) ListStages(ctx context.Context, runID string) ([]*StageRun, error) {
	query := `
		SELECT id, run_id, stage, position, status, duration_ms, error_message, finished_at
		FROM stage_runs WHERE run_id = ? ORDER BY position, id
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		slog.Error("database_list_query_failed", "run_id", runID, "error", err)
		return nil, errors.Wrap(err, "failed to list stages")
	}
	defer rows.Close()

	var stages []*StageRun
	for rows.Next() {
		var (
			sr         StageRun
			durationMS int64
			errMsg     sql.NullString
			finishedAt string
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Stage, &sr.Position, &sr.Status,
			&durationMS, &errMsg, &finishedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		sr.Duration = time.Duration(durationMS) * time.Millisecond
		sr.ErrorMessage = errMsg.String
		if sr.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, errors.Wrap(err, "invalid finished_at")
		}
		stages = append(stages, &sr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return stages, nil
}

// DeleteRun deletes a run and its stages
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	n, err := r.deleteRuns(ctx, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	slog.Info("database_run_deleted", "run_id", id)
	return nil
}

// DeleteRunsBefore deletes runs started before t and returns their IDs
func (r *Repository) DeleteRunsBefore(ctx context.Context, t time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM runs WHERE started_at < ?`, formatTime(t))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query old runs")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan row")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	if _, err := r.deleteRuns(ctx, ids); err != nil {
		return nil, err
	}
	slog.Info("database_runs_pruned", "before", t, "count", len(ids))
	return ids, nil
}

func (r *Repository) deleteRuns(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var deleted int64
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stage_runs WHERE run_id = ?`, id); err != nil {
			return 0, errors.Wrap(err, "failed to delete stage runs")
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
		if err != nil {
			return 0, errors.Wrap(err, "failed to delete run")
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "failed to get rows affected")
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit transaction")
	}
	return deleted, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run                                    Run
		stages, startedAt                      string
		deviceID, failedStage, errMsg, session sql.NullString
		finishedAt                             sql.NullString
	)
	if err := s.Scan(&run.ID, &run.DeviceName, &deviceID, &stages, &run.Status, &run.Durable,
		&failedStage, &errMsg, &session, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stages), &run.Stages); err != nil {
		return nil, errors.Wrap(err, "invalid stages column")
	}
	run.DeviceID = deviceID.String
	run.FailedStage = failedStage.String
	run.ErrorMessage = errMsg.String
	run.Session = session.String

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, errors.Wrap(err, "invalid started_at")
	}
	if finishedAt.Valid {
		if run.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return nil, errors.Wrap(err, "invalid finished_at")
		}
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

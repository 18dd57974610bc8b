package db

import "time"

// Schema defines the SQLite database schema for run history.
// runs holds one row per camctl run and stage_runs one row per executed
// stage, in execution order.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    device_name TEXT NOT NULL,
    device_id TEXT,
    stages TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('running', 'succeeded', 'failed')),
    durable INTEGER NOT NULL DEFAULT 0,
    failed_stage TEXT,
    error_message TEXT,
    session TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_device_name ON runs(device_name);

CREATE TABLE IF NOT EXISTS stage_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    stage TEXT NOT NULL,
    position INTEGER NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('succeeded', 'failed')),
    duration_ms INTEGER NOT NULL,
    error_message TEXT,
    finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stage_runs_run_id ON stage_runs(run_id);
`

// Status constants
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run represents a run record
type Run struct {
	ID           string
	DeviceName   string
	DeviceID     string
	Stages       []string
	Status       string
	Durable      bool
	FailedStage  string
	ErrorMessage string
	// Session is the JSON snapshot of the device session at the end of the run.
	Session    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunResult is the terminal state written by FinishRun
type RunResult struct {
	Status       string
	DeviceID     string
	FailedStage  string
	ErrorMessage string
	Session      string
}

// StageRun represents one executed stage
type StageRun struct {
	ID           int64
	RunID        string
	Stage        string
	Position     int
	Status       string
	Duration     time.Duration
	ErrorMessage string
	FinishedAt   time.Time
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

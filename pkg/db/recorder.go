package db

import (
	"context"
	"log/slog"

	"github.com/edge-vision/camctl/pkg/stage"
)

// Recorder is a stage.Observer that appends every finished stage of one run
// to stage_runs.
type Recorder struct {
	repo  *Repository
	runID string
}

var _ stage.Observer = (*Recorder)(nil)

// NewRecorder returns a Recorder writing under runID.
func NewRecorder(repo *Repository, runID string) *Recorder {
	return &Recorder{repo: repo, runID: runID}
}

// Observe records succeeded and failed events. A write failure is logged and
// does not affect the run.
func (r *Recorder) Observe(ctx context.Context, ev stage.Event) {
	sr := &StageRun{
		RunID:      r.runID,
		Stage:      ev.Stage,
		Position:   ev.Position,
		Duration:   ev.Duration,
		FinishedAt: ev.Time,
	}
	switch ev.Kind {
	case stage.EventSucceeded:
		sr.Status = StatusSucceeded
	case stage.EventFailed:
		sr.Status = StatusFailed
		if ev.Err != nil {
			sr.ErrorMessage = ev.Err.Error()
		}
	default:
		return
	}

	if err := r.repo.RecordStage(context.WithoutCancel(ctx), sr); err != nil {
		slog.Warn("history_record_failed", "run_id", r.runID, "stage", ev.Stage, "error", err)
	}
}

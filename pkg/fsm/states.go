package fsm

import (
	"context"
	"log/slog"

	"github.com/edge-vision/camctl/pkg/stage"
	"github.com/superfly/fsm"
)

// transition runs def as the position-th of total states. A stage failure
// aborts the machine: the FSM does not retry it and skips the remaining
// states.
func (m *machine) transition(def stage.Definition, position, total int) fsm.Transition[RunRequest, RunRecord] {
	return func(ctx context.Context, req *fsm.Request[RunRequest, RunRecord]) (*fsm.Response[RunRecord], error) {
		slog.Debug("fsm_state_enter", "state", def.Name, "run_id", req.Msg.RunID)

		rec := req.W.Msg
		if rec == nil {
			rec = &RunRecord{}
		}

		if err := m.exec.Step(ctx, def, position, total, m.sess, m.api); err != nil {
			stageErr := &stage.StageError{Stage: def.Name, Position: position, Err: err}

			m.mu.Lock()
			m.report.Failure = stageErr
			m.mu.Unlock()

			rec.FailedStage = def.Name
			rec.ErrorMessage = err.Error()
			rec.Session = m.sess.State()
			return nil, fsm.Abort(stageErr)
		}

		m.mu.Lock()
		m.report.Executed = append(m.report.Executed, def.Name)
		m.mu.Unlock()

		rec.Executed = append(rec.Executed, def.Name)
		rec.Session = m.sess.State()
		return fsm.NewResponse(rec), nil
	}
}

func (m *machine) finalize(_ context.Context, req *fsm.Request[RunRequest, RunRecord], runErr fsm.RunErr) {
	if runErr.Err != nil {
		slog.Error("fsm_run_failed",
			"run_id", req.Msg.RunID,
			"version", req.Run().StartVersion.String(),
			"state", runErr.State,
			"error", runErr.Err)
		return
	}
	slog.Info("fsm_run_complete", "run_id", req.Msg.RunID, "version", req.Run().StartVersion.String(), "stages", len(req.Msg.Stages))
}

// Package fsm runs a stage selection as a superfly/fsm state machine so each
// stage transition is persisted in the FSM store. Every selected stage is a
// state; a failing stage aborts the machine and nothing is retried.
package fsm

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/edge-vision/camctl/pkg/console"
	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/stage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/superfly/fsm"
)

// NewManager creates an FSM manager persisting to dbPath. The manager logs
// through logrus at warn level to stderr.
func NewManager(dbPath string) (*fsm.Manager, error) {
	// fsm.New creates the directory with 0600, which is not traversable.
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create FSM directory")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	manager, err := fsm.New(fsm.Config{
		DBPath: dbPath,
		Logger: logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "FSM manager failed")
	}
	return manager, nil
}

// Runner executes stages as FSM transitions.
type Runner struct {
	manager *fsm.Manager
	exec    *stage.Executor
	newID   func() string
}

var _ stage.Runner = (*Runner)(nil)

// NewRunner creates a Runner. Observers receive the same events as with
// the in-process executor.
func NewRunner(manager *fsm.Manager, reg *stage.Registry, observers ...stage.Observer) *Runner {
	return &Runner{
		manager: manager,
		exec:    stage.NewExecutor(reg, observers...),
		newID:   uuid.NewString,
	}
}

// WithRunID fixes the ID of the next runs, so callers can correlate FSM
// history with their own records.
func (r *Runner) WithRunID(id string) *Runner {
	cp := *r
	cp.newID = func() string { return id }
	return &cp
}

// Run registers one machine for this selection, starts it and waits for it
// to finish.
func (r *Runner) Run(ctx context.Context, names []string, sess *stage.Session, api console.API) (*stage.RunReport, error) {
	defs, err := r.exec.Resolve(names)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return &stage.RunReport{Executed: []string{}}, nil
	}

	runID := r.newID()
	m := &machine{
		exec:   r.exec,
		defs:   defs,
		sess:   sess,
		api:    api,
		report: &stage.RunReport{Executed: make([]string, 0, len(defs))},
	}

	start, err := m.register(ctx, r.manager, runID)
	if err != nil {
		return nil, err
	}

	req := &RunRequest{
		RunID:      runID,
		DeviceName: sess.DeviceName(),
		Stages:     names,
	}
	version, err := start(ctx, runID, fsm.NewRequest(req, &RunRecord{Session: sess.State()}))
	if err != nil {
		return nil, errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "run_id", runID, "version", version.String())

	waitErr := r.manager.Wait(ctx, version)

	report := m.snapshot()
	if report.Failure != nil {
		return report, report.Failure
	}
	if waitErr != nil {
		return report, errors.Wrap(waitErr, "FSM execution failed")
	}
	return report, nil
}

// machine holds one run's state. Transitions run on the manager's
// goroutine; report is read back after Wait.
type machine struct {
	exec *stage.Executor
	defs []stage.Definition
	sess *stage.Session
	api  console.API

	mu     sync.Mutex
	report *stage.RunReport
}

func (m *machine) register(ctx context.Context, manager *fsm.Manager, runID string) (fsm.Start[RunRequest, RunRecord], error) {
	total := len(m.defs)

	b := fsm.Register[RunRequest, RunRecord](manager, "run-"+runID).
		Start(m.defs[0].Name, m.transition(m.defs[0], 1, total))
	for i, def := range m.defs[1:] {
		b = b.To(def.Name, m.transition(def, i+2, total))
	}

	start, _, err := b.End(StateComplete, fsm.WithFinalizers(m.finalize)).Build(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register FSM")
	}
	return start, nil
}

func (m *machine) snapshot() *stage.RunReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &stage.RunReport{
		Executed: append([]string(nil), m.report.Executed...),
		Failure:  m.report.Failure,
	}
}

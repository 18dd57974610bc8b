package stage

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/edge-vision/camctl/pkg/console"
)

// RunReport is the terminal state of a run. A run with a Failure is a
// partial completion: Executed lists the stages that finished before it.
type RunReport struct {
	Executed []string
	Failure  *StageError
}

// Succeeded reports whether every selected stage completed.
func (r *RunReport) Succeeded() bool {
	return r != nil && r.Failure == nil
}

// Err returns the failure as an error, or nil.
func (r *RunReport) Err() error {
	if r == nil || r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Runner executes an ordered list of stages against a session.
type Runner interface {
	Run(ctx context.Context, names []string, sess *Session, api console.API) (*RunReport, error)
}

// Executor runs stages sequentially and stops at the first failure. It never
// retries and never rolls back.
type Executor struct {
	reg       *Registry
	observers Observers
	now       func() time.Time
}

var _ Runner = (*Executor)(nil)

// NewExecutor creates an executor over reg.
func NewExecutor(reg *Registry, observers ...Observer) *Executor {
	return &Executor{
		reg:       reg,
		observers: observers,
		now:       time.Now,
	}
}

// Resolve looks up every name before anything runs.
func (e *Executor) Resolve(names []string) ([]Definition, error) {
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		def, err := e.reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Run executes names in the given order. The returned error is the
// *StageError of the failing stage, also recorded in the report.
func (e *Executor) Run(ctx context.Context, names []string, sess *Session, api console.API) (*RunReport, error) {
	defs, err := e.Resolve(names)
	if err != nil {
		return nil, err
	}

	slog.Info("run_started", "device_name", sess.DeviceName(), "stages", names)

	report := &RunReport{Executed: make([]string, 0, len(defs))}
	for i, def := range defs {
		if err := e.Step(ctx, def, i+1, len(defs), sess, api); err != nil {
			report.Failure = &StageError{Stage: def.Name, Position: i + 1, Err: err}
			slog.Error("run_aborted", "device_name", sess.DeviceName(), "stage", def.Name, "position", i+1, "executed", report.Executed)
			return report, report.Failure
		}
		report.Executed = append(report.Executed, def.Name)
	}

	slog.Info("run_complete", "device_name", sess.DeviceName(), "executed", report.Executed)
	return report, nil
}

// Step runs a single stage at position of total, emitting its events.
func (e *Executor) Step(ctx context.Context, def Definition, position, total int, sess *Session, api console.API) error {
	ev := Event{
		Kind:       EventStarting,
		Stage:      def.Name,
		Position:   position,
		Total:      total,
		DeviceName: sess.DeviceName(),
		Time:       e.now(),
	}
	slog.Info("stage_starting", "stage", def.Name, "position", position, "total", total)
	e.observers.Observe(ctx, ev)

	start := ev.Time
	err := invoke(ctx, def, sess, api)

	ev.Time = e.now()
	ev.Duration = ev.Time.Sub(start)
	if err != nil {
		ev.Kind, ev.Err = EventFailed, err
		slog.Error("stage_failed", "stage", def.Name, "position", position, "duration", ev.Duration, "error", err)
		e.observers.Observe(ctx, ev)
		return err
	}

	ev.Kind = EventSucceeded
	slog.Info("stage_completed", "stage", def.Name, "position", position, "duration", ev.Duration)
	e.observers.Observe(ctx, ev)
	return nil
}

func invoke(ctx context.Context, def Definition, sess *Session, api console.API) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("stage_panic", "stage", def.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("stage %s panicked: %v", def.Name, r)
		}
	}()
	return def.Action(ctx, sess, api)
}

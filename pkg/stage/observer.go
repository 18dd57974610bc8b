package stage

import (
	"context"
	"time"
)

// EventKind is the lifecycle point an Event reports.
type EventKind string

const (
	EventStarting  EventKind = "starting"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
)

// Event describes one stage transition within a run.
type Event struct {
	Kind       EventKind
	Stage      string
	Position   int // 1-based
	Total      int
	DeviceName string
	Time       time.Time
	Duration   time.Duration
	Err        error
}

// Observer receives stage events. Observers must not block for long: they
// run inline on the single execution thread.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Observers fans an event out in order.
type Observers []Observer

// Observe forwards ev to every observer.
func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}

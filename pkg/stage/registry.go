// Package stage catalogs the named steps of a device run, selects them with
// shell-glob patterns and executes them in declaration order, stopping at
// the first failure.
package stage

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/edge-vision/camctl/pkg/console"
)

// StagePrefix marks a name as a stage.
const StagePrefix = "stage_"

// Action is the behavior of a stage. The session and API client are passed
// explicitly on every call.
type Action func(ctx context.Context, sess *Session, api console.API) error

// Definition is a registered stage.
type Definition struct {
	Name   string
	Order  int
	Action Action
}

// Registry holds stage definitions in the order they were registered.
// It is append-only.
type Registry struct {
	defs  []Definition
	index map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register appends a stage with the next declaration order.
func (r *Registry) Register(name string, action Action) error {
	if !strings.HasPrefix(name, StagePrefix) || len(name) == len(StagePrefix) {
		return fmt.Errorf("%w: %q must start with %q", ErrInvalidStageName, name, StagePrefix)
	}
	if action == nil {
		return fmt.Errorf("%w: %q has no action", ErrInvalidStageName, name)
	}
	if _, ok := r.index[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}

	r.index[name] = len(r.defs)
	r.defs = append(r.defs, Definition{
		Name:   name,
		Order:  len(r.defs),
		Action: action,
	})
	return nil
}

// MustRegister is Register for static catalogs; it panics on error.
func (r *Registry) MustRegister(name string, action Action) {
	if err := r.Register(name, action); err != nil {
		panic(err)
	}
}

// Lookup returns the stage registered under name.
func (r *Registry) Lookup(name string) (Definition, error) {
	i, ok := r.index[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	return r.defs[i], nil
}

// Names yields every stage name in declaration order.
func (r *Registry) Names() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, d := range r.defs {
			if !yield(d.Name) {
				return
			}
		}
	}
}

// Len returns the number of registered stages.
func (r *Registry) Len() int {
	return len(r.defs)
}

package stage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStageNotFound is returned when a stage name is not in the registry.
	ErrStageNotFound = errors.New("stage not found")
	// ErrDuplicateStage is returned when a stage name is registered twice.
	ErrDuplicateStage = errors.New("stage already registered")
	// ErrInvalidStageName is returned for names without the stage prefix.
	ErrInvalidStageName = errors.New("invalid stage name")
	// ErrFieldAlreadySet is returned when a write-once session field is overwritten.
	ErrFieldAlreadySet = errors.New("session field already set")
)

// UnknownPatternError lists explicit selection patterns that matched no stage.
type UnknownPatternError struct {
	Patterns []string
}

func (e *UnknownPatternError) Error() string {
	return fmt.Sprintf("no stage matches pattern(s): %s", strings.Join(e.Patterns, ", "))
}

// UninitializedFieldError is returned when a session field is read before the
// stage responsible for it has run. It points at a stage ordering bug.
type UninitializedFieldError struct {
	Field string
}

func (e *UninitializedFieldError) Error() string {
	return fmt.Sprintf("session field %q read before it was set", e.Field)
}

// StageError records where a run stopped and why.
type StageError struct {
	Stage    string
	Position int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (position %d) failed: %v", e.Stage, e.Position, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

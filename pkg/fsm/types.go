package fsm

import "github.com/edge-vision/camctl/pkg/stage"

// RunRequest is the FSM input
type RunRequest struct {
	RunID      string   `json:"run_id"`
	DeviceName string   `json:"device_name"`
	Stages     []string `json:"stages"`
}

// RunRecord is the FSM output (accumulated across transitions)
type RunRecord struct {
	Executed []string           `json:"executed"`
	Session  stage.SessionState `json:"session"`

	// From the failing transition
	FailedStage  string `json:"failed_stage,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// StateComplete is the terminal state every run ends in. Stage names are
// the other states.
const StateComplete = "complete"

package stage

import (
	"fmt"
	"maps"
)

// Session field names reported by UninitializedFieldError.
const (
	FieldDeviceID           = "device_id"
	FieldOutputSubdirectory = "output_subdirectory"
)

// Session is the per-run state shared by stages. Fields are written once by
// the stage that owns them and read by later stages. A session has a single
// sequential writer and is not safe for concurrent use.
type Session struct {
	deviceName string

	deviceID    string
	hasDeviceID bool

	outputSubdirectory string
	hasOutput          bool

	facts map[string]string
}

// SessionState is a serializable snapshot of a Session.
type SessionState struct {
	DeviceName         string            `json:"device_name"`
	DeviceID           string            `json:"device_id,omitempty"`
	OutputSubdirectory string            `json:"output_subdirectory,omitempty"`
	Facts              map[string]string `json:"facts,omitempty"`
}

// NewSession creates a session for the device searched by name.
func NewSession(deviceName string) *Session {
	return &Session{
		deviceName: deviceName,
		facts:      make(map[string]string),
	}
}

// DeviceName is the caller supplied search key.
func (s *Session) DeviceName() string {
	return s.deviceName
}

// DeviceID returns the resolved device identifier.
func (s *Session) DeviceID() (string, error) {
	if !s.hasDeviceID {
		return "", &UninitializedFieldError{Field: FieldDeviceID}
	}
	return s.deviceID, nil
}

// SetDeviceID records the resolved device identifier. It can only be set once.
func (s *Session) SetDeviceID(id string) error {
	if err := checkWriteOnce(FieldDeviceID, s.hasDeviceID, s.deviceID, id); err != nil {
		return err
	}
	s.deviceID, s.hasDeviceID = id, true
	return nil
}

// OutputSubdirectory returns where the device uploads inference output.
func (s *Session) OutputSubdirectory() (string, error) {
	if !s.hasOutput {
		return "", &UninitializedFieldError{Field: FieldOutputSubdirectory}
	}
	return s.outputSubdirectory, nil
}

// SetOutputSubdirectory records the output location. It can only be set once.
func (s *Session) SetOutputSubdirectory(dir string) error {
	if err := checkWriteOnce(FieldOutputSubdirectory, s.hasOutput, s.outputSubdirectory, dir); err != nil {
		return err
	}
	s.outputSubdirectory, s.hasOutput = dir, true
	return nil
}

// SetFact stores a value derived by a stage.
func (s *Session) SetFact(key, value string) {
	s.facts[key] = value
}

// Fact returns a derived value and whether it was set.
func (s *Session) Fact(key string) (string, bool) {
	v, ok := s.facts[key]
	return v, ok
}

// State snapshots the session.
func (s *Session) State() SessionState {
	st := SessionState{
		DeviceName:         s.deviceName,
		DeviceID:           s.deviceID,
		OutputSubdirectory: s.outputSubdirectory,
	}
	if len(s.facts) > 0 {
		st.Facts = maps.Clone(s.facts)
	}
	return st
}

func checkWriteOnce(field string, set bool, current, next string) error {
	if set && current != next {
		return fmt.Errorf("%w: %s is %q, refusing %q", ErrFieldAlreadySet, field, current, next)
	}
	return nil
}

// Package console is the device-management API surface the stages drive:
// device lookup, log configuration, inference start/stop and result/log
// retrieval against the cloud console.
package console

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
)

// ConnectionState filters devices by their link to the console.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	// ConnectionAny applies no connection filter.
	ConnectionAny ConnectionState = ""
)

// Device is a camera registered in the console.
type Device struct {
	DeviceID        string         `json:"device_id"`
	Property        DeviceProperty `json:"property"`
	ConnectionState string         `json:"connectionState,omitempty"`
}

// DeviceProperty holds the user-facing device attributes.
type DeviceProperty struct {
	DeviceName string `json:"device_name"`
}

// Name returns the device's display name.
func (d Device) Name() string {
	return d.Property.DeviceName
}

// CommandParameterSet is a command parameter file and the devices it is bound to.
type CommandParameterSet struct {
	FileName  string          `json:"file_name"`
	Comment   string          `json:"comment,omitempty"`
	Parameter json.RawMessage `json:"parameter,omitempty"`
	DeviceIDs []string        `json:"device_ids"`
}

// BoundTo reports whether the parameter set applies to deviceID.
func (c CommandParameterSet) BoundTo(deviceID string) bool {
	return slices.Contains(c.DeviceIDs, deviceID)
}

// LogConfig describes the application log settings pushed to a device.
// Level and Destination are only sent when non-empty.
type LogConfig struct {
	Enabled        bool
	Level          string
	Destination    string
	SensorRegister bool
}

// Ack is the generic console acknowledgement.
type Ack struct {
	Result string `json:"result"`
}

func (a *Ack) String() string {
	if a == nil {
		return ""
	}
	return a.Result
}

// OK reports whether the console acknowledged the call as successful.
func (a *Ack) OK() bool {
	return a != nil && strings.Contains(a.Result, "SUCCESS")
}

// StartResult is returned when inference upload is started on a device.
type StartResult struct {
	Result             string `json:"result"`
	OutputSubdirectory string `json:"outputSubDirectory"`
}

// Succeeded reports whether the start request explicitly signalled success.
func (s *StartResult) Succeeded() bool {
	return s != nil && strings.Contains(s.Result, "SUCCESS")
}

// ResultEnvelope is the raw inference result document returned by the console.
type ResultEnvelope = json.RawMessage

// LogBatch is the raw application log listing returned by the console.
type LogBatch = json.RawMessage

// API is the console surface consumed by the stages.
type API interface {
	FindDevices(ctx context.Context, state ConnectionState, nameFilter string) ([]Device, error)
	GetCommandParameters(ctx context.Context) ([]CommandParameterSet, error)
	SetLogConfig(ctx context.Context, deviceID string, cfg LogConfig) (*Ack, error)
	StartInference(ctx context.Context, deviceID string) (*StartResult, error)
	GetInferenceResults(ctx context.Context, deviceID string, count int, raw bool) (ResultEnvelope, error)
	GetLogs(ctx context.Context, deviceID string, topN int) (LogBatch, error)
	StopInference(ctx context.Context, deviceID string) (*Ack, error)
}

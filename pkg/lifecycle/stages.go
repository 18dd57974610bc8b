// Package lifecycle defines the standard device run: find the camera, turn
// on cloud logging, run an inference and collect its result, pull the
// application logs and finally stop processing.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/edge-vision/camctl/pkg/artifact"
	"github.com/edge-vision/camctl/pkg/console"
	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/hifi"
	"github.com/edge-vision/camctl/pkg/stage"
)

// Stage names in execution order.
const (
	StageInitialize     = "stage_initialize"
	StageStartLogs      = "stage_start_logs"
	StageInfer          = "stage_infer"
	StageDownloadLogs   = "stage_download_logs"
	StageStopProcessing = "stage_stop_processing"
)

const (
	// InferenceWait is how long the camera is given to produce a result.
	InferenceWait = 10 * time.Second
	// LogSettleWait is how long the console is given to ingest device logs.
	LogSettleWait = 10 * time.Second
	// DefaultLogTopN is the number of log entries fetched by default.
	DefaultLogTopN = 50
)

// Session fact keys set by stage_infer when decoding is enabled.
const (
	FactAnomalyScore = "anomaly_score"
	FactHeatmapSize  = "heatmap_size"
)

// Verbose cloud logging pushed by stage_start_logs.
var verboseCloudLogs = console.LogConfig{
	Enabled:        true,
	Level:          "Verbose",
	Destination:    "Cloud",
	SensorRegister: true,
}

// Options tunes the standard stages.
type Options struct {
	// LogTopN is the number of log entries stage_download_logs fetches.
	LogTopN int
	// Sink receives device listings, result envelopes and log batches.
	Sink artifact.Sink
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Decode makes stage_infer decode the fetched result.
	Decode bool
}

// DeviceNotFoundError is returned when no connected device has the
// requested name. Connected lists what was reachable instead.
type DeviceNotFoundError struct {
	Name      string
	Connected []console.Device
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %s not found among %d connected device(s)", e.Name, len(e.Connected))
}

// ProcessingStartError is returned when the console does not acknowledge
// the start of inference upload.
type ProcessingStartError struct {
	Result string
}

func (e *ProcessingStartError) Error() string {
	return fmt.Sprintf("processing start failed: result %q", e.Result)
}

type stages struct {
	topN   int
	sink   artifact.Sink
	sleep  func(context.Context, time.Duration) error
	decode bool
}

// Register adds the standard stages to reg in execution order.
func Register(reg *stage.Registry, opts Options) error {
	s := &stages{
		topN:   opts.LogTopN,
		sink:   opts.Sink,
		sleep:  opts.Sleep,
		decode: opts.Decode,
	}
	if s.topN <= 0 {
		s.topN = DefaultLogTopN
	}
	if s.sink == nil {
		s.sink = artifact.Discard
	}
	if s.sleep == nil {
		s.sleep = Sleep
	}

	for _, def := range []struct {
		name   string
		action stage.Action
	}{
		{StageInitialize, s.initialize},
		{StageStartLogs, s.startLogs},
		{StageInfer, s.infer},
		{StageDownloadLogs, s.downloadLogs},
		{StageStopProcessing, s.stopProcessing},
	} {
		if err := reg.Register(def.name, def.action); err != nil {
			return err
		}
	}
	return nil
}

// Sleep waits for d, returning early with ctx's error if it is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *stages) initialize(ctx context.Context, sess *stage.Session, api console.API) error {
	slog.Info("device_lookup", "device_name", sess.DeviceName())

	devices, err := api.FindDevices(ctx, console.ConnectionConnected, sess.DeviceName())
	if err != nil {
		return errors.Wrap(err, "failed to look up device")
	}

	if len(devices) == 0 {
		connected, err := api.FindDevices(ctx, console.ConnectionConnected, "")
		if err != nil {
			return errors.Wrap(err, "failed to list connected devices")
		}
		for _, d := range connected {
			slog.Info("connected_device", "device_name", d.Name(), "device_id", d.DeviceID)
		}
		if err := s.save(ctx, "initialize/connected_devices.json", connected); err != nil {
			return err
		}
		return &DeviceNotFoundError{Name: sess.DeviceName(), Connected: connected}
	}

	device := devices[0]
	if err := sess.SetDeviceID(device.DeviceID); err != nil {
		return err
	}
	slog.Info("device_found", "device_name", device.Name(), "device_id", device.DeviceID, "matches", len(devices))
	if err := s.save(ctx, "initialize/device.json", device); err != nil {
		return err
	}

	// Parameter files are informational; the run does not depend on them.
	params, err := api.GetCommandParameters(ctx)
	if err != nil {
		slog.Warn("command_parameters_unavailable", "device_id", device.DeviceID, "error", err)
		return nil
	}
	var bound []console.CommandParameterSet
	for _, p := range params {
		if p.BoundTo(device.DeviceID) {
			bound = append(bound, p)
			slog.Info("command_parameter_bound", "device_id", device.DeviceID, "file_name", p.FileName)
		}
	}
	return s.save(ctx, "initialize/command_parameters.json", bound)
}

func (s *stages) startLogs(ctx context.Context, sess *stage.Session, api console.API) error {
	id, err := sess.DeviceID()
	if err != nil {
		return err
	}

	ack, err := api.SetLogConfig(ctx, id, verboseCloudLogs)
	if err != nil {
		return errors.Wrap(err, "failed to activate logs")
	}
	slog.Info("logs_activated", "device_id", id, "level", verboseCloudLogs.Level, "destination", verboseCloudLogs.Destination, "result", ack.String())
	warnUnacknowledged("logs_activation_not_acknowledged", id, ack)
	return nil
}

func (s *stages) infer(ctx context.Context, sess *stage.Session, api console.API) error {
	id, err := sess.DeviceID()
	if err != nil {
		return err
	}

	started, err := api.StartInference(ctx, id)
	if err != nil {
		return errors.Wrap(err, "failed to start processing")
	}
	if !started.Succeeded() {
		perr := &ProcessingStartError{}
		if started != nil {
			perr.Result = started.Result
		}
		return perr
	}
	if err := sess.SetOutputSubdirectory(started.OutputSubdirectory); err != nil {
		return err
	}
	slog.Info("processing_started", "device_id", id, "output_subdirectory", started.OutputSubdirectory)

	slog.Info("waiting_for_inference", "device_id", id, "wait", InferenceWait)
	if err := s.sleep(ctx, InferenceWait); err != nil {
		return err
	}

	envelope, err := api.GetInferenceResults(ctx, id, 1, true)
	if err != nil {
		return errors.Wrap(err, "failed to get inference results")
	}
	slog.Info("inference_results_fetched", "device_id", id, "size_bytes", len(envelope))
	if err := s.sink.Save(ctx, "infer/envelope.json", envelope); err != nil {
		return err
	}

	if s.decode {
		s.summarize(sess, envelope)
	}
	return nil
}

// summarize decodes the fetched result into session facts. The result is
// best effort: the device may not run an anomaly model at all.
func (s *stages) summarize(sess *stage.Session, envelope []byte) {
	buf, err := hifi.Extract(envelope)
	if err == nil {
		var res *hifi.Result
		if res, err = hifi.Decode(buf); err == nil {
			sess.SetFact(FactAnomalyScore, strconv.FormatFloat(float64(res.AnomalyScore), 'g', -1, 32))
			sess.SetFact(FactHeatmapSize, fmt.Sprintf("%dx%d", res.Width, res.Height))
			slog.Info("inference_result_decoded", "anomaly_score", res.AnomalyScore, "width", res.Width, "height", res.Height)
			return
		}
	}
	slog.Warn("inference_result_not_decoded", "error", err)
}

func (s *stages) downloadLogs(ctx context.Context, sess *stage.Session, api console.API) error {
	id, err := sess.DeviceID()
	if err != nil {
		return err
	}

	slog.Info("waiting_for_logs", "device_id", id, "wait", LogSettleWait)
	if err := s.sleep(ctx, LogSettleWait); err != nil {
		return err
	}

	logs, err := api.GetLogs(ctx, id, s.topN)
	if err != nil {
		return errors.Wrap(err, "failed to download logs")
	}
	slog.Info("logs_downloaded", "device_id", id, "top", s.topN, "size_bytes", len(logs))
	return s.sink.Save(ctx, "download_logs/applogs.json", logs)
}

func (s *stages) stopProcessing(ctx context.Context, sess *stage.Session, api console.API) error {
	id, err := sess.DeviceID()
	if err != nil {
		return err
	}

	ack, err := api.SetLogConfig(ctx, id, console.LogConfig{Enabled: false})
	if err != nil {
		return errors.Wrap(err, "failed to deactivate logs")
	}
	slog.Info("logs_deactivated", "device_id", id, "result", ack.String())
	warnUnacknowledged("logs_deactivation_not_acknowledged", id, ack)

	ack, err = api.StopInference(ctx, id)
	if err != nil {
		return errors.Wrap(err, "failed to stop processing")
	}
	slog.Info("processing_stopped", "device_id", id, "result", ack.String())
	warnUnacknowledged("processing_stop_not_acknowledged", id, ack)
	return nil
}

// warnUnacknowledged logs a console reply that does not report SUCCESS.
// The call itself succeeded, so the stage does not fail.
func warnUnacknowledged(event, deviceID string, ack *console.Ack) {
	if !ack.OK() {
		slog.Warn(event, "device_id", deviceID, "result", ack.String())
	}
}

func (s *stages) save(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", strings.TrimSuffix(name, ".json"))
	}
	return s.sink.Save(ctx, name, data)
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/edge-vision/camctl/internal/config"
	"github.com/edge-vision/camctl/pkg/artifact"
	"github.com/edge-vision/camctl/pkg/console"
	"github.com/edge-vision/camctl/pkg/db"
	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/events"
	appfsm "github.com/edge-vision/camctl/pkg/fsm"
	"github.com/edge-vision/camctl/pkg/lifecycle"
	"github.com/edge-vision/camctl/pkg/metrics"
	"github.com/edge-vision/camctl/pkg/security"
	"github.com/edge-vision/camctl/pkg/stage"
	"github.com/edge-vision/camctl/pkg/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	runDeviceName   string
	runPatterns     []string
	runSecretsPath  string
	runDecodeResult bool
)

var runCmd = &cobra.Command{
	Use:   "run -D DEVICE [PATTERN...]",
	Short: "Run lifecycle stages against a device",
	Long: `Runs the selected stages, in declaration order, against the named device.
Patterns are shell globs matched against stage names (see "camctl stages");
with no pattern every stage runs. The run stops at the first failing stage.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runDeviceName, "device-name", "D", "", "Device name to search for")
	runCmd.Flags().StringArrayVarP(&runPatterns, "stages", "S", nil, "Stage pattern (repeatable)")
	runCmd.Flags().StringVarP(&runSecretsPath, "aitrios-secrets", "s", "aitrios_secrets.json", "Console credentials file")
	runCmd.Flags().BoolVar(&runDecodeResult, "decode", false, "Decode the fetched anomaly_hifi result into session facts")
	runCmd.Flags().Bool("durable", false, "Persist stage transitions in the FSM store")
	runCmd.Flags().Int("log-top-n", lifecycle.DefaultLogTopN, "Number of log entries stage_download_logs fetches")
	runCmd.Flags().String("mqtt-broker", "", "MQTT broker URL for stage events (empty disables)")
	runCmd.Flags().String("mqtt-topic-prefix", "camctl", "MQTT topic prefix")
	runCmd.Flags().String("mqtt-client-id", "", "MQTT client ID (default camctl-<run-id>)")
	runCmd.Flags().String("metrics-file", "", "Write Prometheus stage metrics to this file")
	runCmd.Flags().Int64("max-artifact-bytes", 256*1024*1024, "Max total artifact bytes per run")
	runCmd.MarkFlagRequired("device-name")

	for _, key := range []string{
		"durable", "log-top-n", "mqtt-broker", "mqtt-topic-prefix", "mqtt-client-id",
		"metrics-file", "max-artifact-bytes",
	} {
		viper.BindPFlag(key, runCmd.Flags().Lookup(key))
	}
}

// runParams are the per-invocation inputs of a run.
type runParams struct {
	DeviceName string
	Patterns   []string
	Decode     bool
	// Store archives artifacts in S3 when set.
	Store *storage.Client
	// Sleep replaces the fixed stage waits; nil uses lifecycle.Sleep.
	Sleep func(context.Context, time.Duration) error
}

// runOutcome describes a finished run, successful or not.
type runOutcome struct {
	RunID         string
	Report        *stage.RunReport
	ArtifactDir   string
	ArtifactBytes int64
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	secrets, err := config.LoadSecrets(runSecretsPath)
	if err != nil {
		return err
	}

	api, err := console.NewClient(ctx, secrets.ConsoleConfig())
	if err != nil {
		return errors.Wrap(err, "console client failed")
	}

	var store *storage.Client
	if cfg.S3Bucket != "" {
		if store, err = storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region); err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
	}

	out, err := executeRun(ctx, cfg, api, runParams{
		DeviceName: runDeviceName,
		Patterns:   slices.Concat(runPatterns, args),
		Decode:     runDecodeResult,
		Store:      store,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s completed %d stage(s) on %s\n", out.RunID, len(out.Report.Executed), runDeviceName)
	fmt.Fprintf(w, "Artifacts: %s (%d bytes)\n", out.ArtifactDir, out.ArtifactBytes)
	return nil
}

// executeRun selects and runs the stages against api, recording the run in
// history. The outcome is returned even when a stage fails.
func executeRun(ctx context.Context, cfg *config.Config, api console.API, p runParams) (*runOutcome, error) {
	fsmDBPath := ""
	if cfg.Durable {
		fsmDBPath = cfg.FSMDBPath
	}
	if err := ensureDirectories(cfg.SQLitePath, fsmDBPath, cfg.WorkDir); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	local := artifact.NewDir(cfg.WorkDir, runID)
	sink, validator := newArtifactSink(cfg, local, p.Store, runID)

	reg, err := standardRegistry(lifecycle.Options{
		LogTopN: cfg.LogTopN,
		Sink:    sink,
		Sleep:   p.Sleep,
		Decode:  p.Decode,
	})
	if err != nil {
		return nil, err
	}

	sel, err := selectStages(reg, p.Patterns, cfg.StrictPatterns)
	if err != nil {
		return nil, err
	}
	if len(sel.Names) == 0 {
		return nil, fmt.Errorf("no stage selected")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	collector := metrics.NewCollector()
	observers := []stage.Observer{db.NewRecorder(repo, runID), collector}

	if cfg.MQTTBroker != "" {
		clientID := cfg.MQTTClientID
		if clientID == "" {
			clientID = "camctl-" + runID
		}
		pub, err := events.Connect(events.Config{
			Broker:      cfg.MQTTBroker,
			ClientID:    clientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			RunID:       runID,
		})
		if err != nil {
			// Events are best effort.
			slog.Warn("mqtt_unavailable", "broker", cfg.MQTTBroker, "error", err)
		} else {
			defer pub.Close()
			observers = append(observers, pub)
		}
	}

	var runner stage.Runner = stage.NewExecutor(reg, observers...)
	if cfg.Durable {
		manager, err := appfsm.NewManager(cfg.FSMDBPath)
		if err != nil {
			return nil, err
		}
		defer manager.Shutdown(10 * time.Second)
		runner = appfsm.NewRunner(manager, reg, observers...).WithRunID(runID)
	}

	if err := repo.CreateRun(ctx, &db.Run{
		ID:         runID,
		DeviceName: p.DeviceName,
		Stages:     sel.Names,
		Durable:    cfg.Durable,
	}); err != nil {
		return nil, errors.Wrap(err, "failed to record run")
	}

	slog.Info("run_id_assigned", "run_id", runID, "device_name", p.DeviceName, "stages", sel.Names, "durable", cfg.Durable)

	sess := stage.NewSession(p.DeviceName)
	report, runErr := runner.Run(ctx, sel.Names, sess, api)

	if err := finishRun(context.WithoutCancel(ctx), repo, runID, sess, runErr); err != nil {
		slog.Error("history_finish_failed", "run_id", runID, "error", err)
	}

	if cfg.MetricsFile != "" {
		if err := collector.WriteTextfile(cfg.MetricsFile); err != nil {
			slog.Warn("metrics_write_failed", "path", cfg.MetricsFile, "error", err)
		}
	}

	out := &runOutcome{
		RunID:         runID,
		Report:        report,
		ArtifactDir:   local.Path(),
		ArtifactBytes: validator.CurrentTotalSize(),
	}
	slog.Info("run_finished", "run_id", runID, "artifact_dir", out.ArtifactDir, "artifact_bytes", out.ArtifactBytes)
	return out, runErr
}

// newArtifactSink writes artifacts to local and, when store is set, to S3 as
// well. Names and sizes are checked once, before either write.
func newArtifactSink(cfg *config.Config, local *artifact.Dir, store *storage.Client, runID string) (artifact.Sink, *security.Validator) {
	sinks := artifact.Tee{local}
	if store != nil {
		sinks = append(sinks, artifact.NewS3(store, cfg.S3Prefix, runID))
	}

	validator := security.NewValidator(cfg.MaxEnvelopeSize, cfg.MaxArtifactBytes)
	return artifact.Guard(sinks, validator), validator
}

// finishRun stores the terminal state of the run.
func finishRun(ctx context.Context, repo *db.Repository, runID string, sess *stage.Session, runErr error) error {
	state := sess.State()
	session, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}

	res := db.RunResult{
		Status:   db.StatusSucceeded,
		DeviceID: state.DeviceID,
		Session:  string(session),
	}
	if runErr != nil {
		res.Status = db.StatusFailed
		res.ErrorMessage = runErr.Error()
		var stageErr *stage.StageError
		if errors.As(runErr, &stageErr) {
			res.FailedStage = stageErr.Stage
			res.ErrorMessage = stageErr.Err.Error()
		}
	}
	return repo.FinishRun(ctx, runID, res)
}

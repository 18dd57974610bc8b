package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edge-vision/camctl/internal/config"
	"github.com/edge-vision/camctl/internal/logging"
	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/stage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "camctl",
	Short: "Edge camera lifecycle orchestration",
	Long: `Drives a console-managed edge camera through its operational lifecycle
(discover, enable logs, infer, collect logs, stop) as a sequence of named
stages, and decodes the binary inference results it produces.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the CLI and exits non-zero on failure. A stage failure is
// reported as "stage <name> (position N) failed: <cause>".
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, exitMessage(err))
		stop()
		os.Exit(1)
	}
}

// exitMessage is the diagnostic line printed before a non-zero exit.
func exitMessage(err error) string {
	var stageErr *stage.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Error()
	}
	return fmt.Sprintf("Error: %v", err)
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".camctl/history.db", "SQLite run history path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".camctl/fsm", "FSM store directory used by durable runs")
	rootCmd.PersistentFlags().String("work-dir", ".camctl/work", "Working directory for local artifacts")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "auto", "Log format (auto, text, json)")
	rootCmd.PersistentFlags().Bool("strict-patterns", false, "Fail when a stage pattern matches nothing")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for artifacts and result envelopes")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("s3-prefix", "runs", "S3 key prefix for run artifacts")
	rootCmd.PersistentFlags().Int64("max-envelope-size", 64*1024*1024, "Max size in bytes of a single artifact or result envelope")

	for _, key := range []string{
		"sqlite-path", "fsm-db-path", "work-dir", "log-level", "log-format",
		"strict-patterns", "s3-bucket", "s3-region", "s3-prefix", "max-envelope-size",
	} {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}
}

// setupLogging installs the default slog logger before any command runs.
func setupLogging(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

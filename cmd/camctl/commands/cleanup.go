package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/edge-vision/camctl/internal/config"
	"github.com/edge-vision/camctl/pkg/artifact"
	"github.com/edge-vision/camctl/pkg/db"
	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	cleanupRun       string
	cleanupOlderThan time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete run history and artifacts",
	Long: `Delete run history rows, the matching local artifact directories and,
when s3-bucket is configured, the archived objects under <s3-prefix>/<run-id>/:
  --run <run-id>          Clean one run
  --older-than <duration> Clean every run started before now minus duration`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().StringVar(&cleanupRun, "run", "", "Clean a specific run by ID")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Clean runs older than this (e.g. 168h)")
	cleanupCmd.MarkFlagsMutuallyExclusive("run", "older-than")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()

	var store *storage.Client
	if cfg.S3Bucket != "" {
		if store, err = storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region); err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
	}

	switch {
	case cleanupRun != "":
		return cleanupSpecificRun(ctx, cmd, repo, cfg, store, cleanupRun)
	case cleanupOlderThan > 0:
		return cleanupOldRuns(ctx, cmd, repo, cfg, store, time.Now().Add(-cleanupOlderThan))
	default:
		return fmt.Errorf("must specify --run or a positive --older-than")
	}
}

func cleanupSpecificRun(ctx context.Context, cmd *cobra.Command, repo *db.Repository, cfg *config.Config, store *storage.Client, runID string) error {
	if err := repo.DeleteRun(ctx, runID); err != nil {
		return errors.Wrapf(err, "cleanup of %s failed", runID)
	}
	if err := removeRunArtifacts(ctx, cfg, store, runID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cleaned: %s\n", runID)
	return nil
}

func cleanupOldRuns(ctx context.Context, cmd *cobra.Command, repo *db.Repository, cfg *config.Config, store *storage.Client, before time.Time) error {
	ids, err := repo.DeleteRunsBefore(ctx, before)
	if err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	out := cmd.OutOrStdout()
	for _, id := range ids {
		if err := removeRunArtifacts(ctx, cfg, store, id); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Failed to remove artifacts of %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(out, "Cleaned: %s\n", id)
	}
	fmt.Fprintf(out, "Removed %d run(s) started before %s\n", len(ids), before.Format(time.DateTime))
	return nil
}

// removeRunArtifacts deletes <work-dir>/artifacts/<run-id> and, when store is
// set, every object under <s3-prefix>/<run-id>/. Missing artifacts are not an
// error.
func removeRunArtifacts(ctx context.Context, cfg *config.Config, store *storage.Client, runID string) error {
	if err := uuid.Validate(runID); err != nil {
		return errors.Wrapf(err, "refusing to remove artifacts of run %q", runID)
	}
	dir := artifact.RunDir(cfg.WorkDir, runID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "failed to remove run artifacts")
	}
	if store == nil {
		return nil
	}
	if _, err := store.DeletePrefix(ctx, artifact.S3RunPrefix(cfg.S3Prefix, runID)); err != nil {
		return errors.Wrap(err, "failed to remove archived artifacts")
	}
	return nil
}

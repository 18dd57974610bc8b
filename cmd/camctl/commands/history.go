package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/edge-vision/camctl/pkg/db"
	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs and their status",
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the stages of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Max runs to list (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	runs, err := repo.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	run, err := repo.GetRun(cmd.Context(), args[0])
	if err != nil {
		return errors.Wrap(err, "lookup failed")
	}
	if run == nil {
		return errors.Wrapf(db.ErrRunNotFound, "run %s", args[0])
	}

	stages, err := repo.ListStages(cmd.Context(), run.ID)
	if err != nil {
		return errors.Wrap(err, "list stages failed")
	}

	printRun(cmd.OutOrStdout(), run, stages)
	return nil
}

func printRuns(w io.Writer, runs []*db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintf(w, "%-36s %-20s %-10s %-22s %-20s\n", "RUN ID", "DEVICE", "STATUS", "FAILED STAGE", "STARTED")
	fmt.Fprintln(w, strings.Repeat("-", 112))

	for _, run := range runs {
		fmt.Fprintf(w, "%-36s %-20s %-10s %-22s %-20s\n",
			run.ID, run.DeviceName, run.Status, orDash(run.FailedStage),
			run.StartedAt.Local().Format(time.DateTime))
	}
}

func printRun(w io.Writer, run *db.Run, stages []*db.StageRun) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Device:   %s (%s)\n", run.DeviceName, orDash(run.DeviceID))
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Durable:  %t\n", run.Durable)
	fmt.Fprintf(w, "Selected: %s\n", strings.Join(run.Stages, ", "))
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished: %s\n", run.FinishedAt.Local().Format(time.DateTime))
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.ErrorMessage)
	}
	if run.Session != "" {
		fmt.Fprintf(w, "Session:  %s\n", run.Session)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-4s %-24s %-10s %-10s %s\n", "POS", "STAGE", "STATUS", "DURATION", "ERROR")
	for _, sr := range stages {
		fmt.Fprintf(w, "%-4d %-24s %-10s %-10s %s\n",
			sr.Position, sr.Stage, sr.Status, sr.Duration.Round(time.Millisecond), sr.ErrorMessage)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

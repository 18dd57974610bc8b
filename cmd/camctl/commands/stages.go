package commands

import (
	"fmt"
	"io"
	"slices"

	"github.com/edge-vision/camctl/pkg/lifecycle"
	"github.com/edge-vision/camctl/pkg/stage"
	"github.com/spf13/cobra"
)

var stagesPatterns []string

var stagesCmd = &cobra.Command{
	Use:   "stages [PATTERN...]",
	Short: "List the stages a selection would run, in execution order",
	RunE:  runStages,
}

func init() {
	rootCmd.AddCommand(stagesCmd)
	stagesCmd.Flags().StringArrayVarP(&stagesPatterns, "stages", "S", nil, "Stage pattern (repeatable)")
}

func runStages(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := standardRegistry(lifecycle.Options{})
	if err != nil {
		return err
	}

	sel, err := selectStages(reg, slices.Concat(stagesPatterns, args), cfg.StrictPatterns)
	if err != nil {
		return err
	}

	printSelection(cmd.OutOrStdout(), cmd.ErrOrStderr(), sel, reg.Len())
	return nil
}

func printSelection(out, errOut io.Writer, sel *stage.Selection, total int) {
	if len(sel.Names) == 0 {
		fmt.Fprintf(out, "No stages selected (%d available)\n", total)
	}
	for i, name := range sel.Names {
		fmt.Fprintf(out, "%d. %s\n", i+1, name)
	}
	if len(sel.Names) > 0 {
		fmt.Fprintf(out, "%d of %d stages selected\n", len(sel.Names), total)
	}
	for _, pattern := range sel.Unmatched {
		fmt.Fprintf(errOut, "warning: pattern %q matched no stage\n", pattern)
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	statusEvents bool
	statusAsJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the state of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusEvents, "events", false, "Include the run event log")
	statusCmd.Flags().BoolVar(&statusAsJSON, "json", false, "Print as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.engine.Status(ctx, args[0], statusEvents)
	if err != nil {
		return err
	}

	if statusAsJSON {
		return printJSON(view)
	}

	run := view.Run
	fmt.Printf("Run: %s\n", run.ID)
	fmt.Printf("Workflow: %s", run.WorkflowName)
	if run.WorkflowVersion != "" {
		fmt.Printf(" (version %s)", run.WorkflowVersion)
	}
	fmt.Println()
	fmt.Printf("Status: %s\n", run.Status)
	fmt.Printf("Snapshot: %s\n", run.SnapshotHash)
	fmt.Printf("Created: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if run.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05 MST"))
	}

	if len(view.Blocks) > 0 {
		fmt.Println("\nBlocks:")
		for _, bs := range view.Blocks {
			line := fmt.Sprintf("  %-24s %s", bs.BlockID, bs.Status)
			if bs.Attempts > 1 {
				line = fmt.Sprintf("%s (attempts: %d)", line, bs.Attempts)
			}
			if bs.DurationMs > 0 {
				line = fmt.Sprintf("%s (%dms)", line, bs.DurationMs)
			}
			fmt.Println(line)
		}
	}

	if statusEvents && len(view.Events) > 0 {
		fmt.Println("\nEvents:")
		for _, ev := range view.Events {
			line := fmt.Sprintf("  %4d  %-28s", ev.Sequence, ev.Type)
			if ev.BlockID != "" {
				line = fmt.Sprintf("%s block=%s", line, ev.BlockID)
			}
			fmt.Println(line)
		}
	}
	return nil
}

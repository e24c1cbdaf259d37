package cli

import (
	"github.com/spf13/cobra"
)

var (
	resumeFollow bool
	resumeAsJSON bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a failed or interrupted run",
	Long: `Rebuilds run state from the event log and re-executes every block
that did not finish. Succeeded and skipped blocks are not re-run.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVarP(&resumeFollow, "follow", "f", false, "Stream block events while the run executes")
	resumeCmd.Flags().BoolVar(&resumeAsJSON, "json", false, "Print the run result as JSON")
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stopFollow := func() {}
	if resumeFollow {
		stopFollow, err = followEvents(ctx, a)
		if err != nil {
			return err
		}
	}

	result, err := a.engine.Resume(ctx, args[0])
	stopFollow()
	if err != nil {
		return err
	}

	return reportResult(result, resumeAsJSON)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "operator request", "Reason recorded in the run event log")
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Cancel(ctx, args[0], cancelReason); err != nil {
		return err
	}
	fmt.Printf("Run %s cancelled\n", args[0])
	return nil
}

// Package cli implements the horus command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

// exitCode is set by run/resume to reflect the terminal run status:
// completed=0, failed=1, cancelled=2.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "horus",
	Short: "Workflow execution engine for computational pipelines",
	Long: `Horus executes workflows described as a DAG of blocks.

Blocks run locally or on named SSH remotes, pass outputs downstream
through ${{blocks.<id>.outputs.<slot>}} references, and every state
change is recorded as an event so interrupted runs can be resumed.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode returns the process exit code for the executed command.
func ExitCode() int {
	return exitCode
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(versionCmd)
}

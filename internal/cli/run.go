package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/temple-compute/horus/internal/engine"
	"github.com/temple-compute/horus/internal/streaming"
	"github.com/temple-compute/horus/pkg/schema"
)

var (
	runInputs []string
	runFollow bool
	runAsJSON bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Execute a workflow",
	Long: `Validates the workflow document, records a content-addressed snapshot
and executes the block DAG to completion.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Run input (format: key=value, value may be JSON)")
	runCmd.Flags().BoolVarP(&runFollow, "follow", "f", false, "Stream block events while the run executes")
	runCmd.Flags().BoolVar(&runAsJSON, "json", false, "Print the run result as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	inputs, err := parseInputs(runInputs)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.validator()
	if err != nil {
		return err
	}
	if err := v.ValidateDefinition(def); err != nil {
		return err
	}

	stopFollow := func() {}
	if runFollow {
		stopFollow, err = followEvents(ctx, a)
		if err != nil {
			return err
		}
	}

	result, err := a.engine.Run(ctx, def, inputs)
	stopFollow()
	if err != nil {
		return err
	}

	return reportResult(result, runAsJSON)
}

// followEvents prints stream events for all runs started by this process.
func followEvents(ctx context.Context, a *app) (func(), error) {
	events, unsubscribe, err := a.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			printEvent(ev)
		}
	}()

	return func() {
		unsubscribe()
		<-done
	}, nil
}

func printEvent(ev streaming.StreamEvent) {
	line := ev.EventType
	if ev.BlockID != "" {
		line = fmt.Sprintf("%s  block=%s", line, ev.BlockID)
	}
	if ev.Remote != "" {
		line = fmt.Sprintf("%s  remote=%s", line, ev.Remote)
	}
	if ev.Payload != nil {
		if data, err := json.Marshal(ev.Payload); err == nil {
			line = fmt.Sprintf("%s  %s", line, data)
		}
	}
	fmt.Println(line)
}

func reportResult(result *engine.RunResult, asJSON bool) error {
	exitCode = statusExitCode(result.Status)

	if asJSON {
		return printJSON(result)
	}

	fmt.Printf("Run %s: %s\n", result.RunID, result.Status)
	for _, id := range sortedBlockIDs(result.Blocks) {
		br := result.Blocks[id]
		line := fmt.Sprintf("  %-24s %s", br.BlockID, br.Status)
		if br.Attempts > 1 {
			line = fmt.Sprintf("%s (attempts: %d)", line, br.Attempts)
		}
		if br.DurationMs > 0 {
			line = fmt.Sprintf("%s (%dms)", line, br.DurationMs)
		}
		fmt.Println(line)
	}
	if result.Error != nil {
		fmt.Printf("Error: %s\n", result.Error.Message)
	}
	return nil
}

func statusExitCode(status schema.RunStatus) int {
	switch status {
	case schema.RunStatusCompleted:
		return 0
	case schema.RunStatusCancelled:
		return 2
	default:
		return 1
	}
}

func sortedBlockIDs(blocks map[string]*engine.BlockResult) []string {
	ids := make([]string, 0, len(blocks))
	for id := range blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

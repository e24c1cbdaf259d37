package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/temple-compute/horus/internal/schedule"
	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/pkg/schema"
)

var (
	scheduleWorkflow string
	scheduleVersion  string
	scheduleCron     string
	scheduleInputs   []string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage cron-triggered runs of stored workflows",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a scheduled run",
	Args:  cobra.NoArgs,
	RunE:  runScheduleCreate,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled runs",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <schedule-id>",
	Short: "Enable a scheduled run",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setScheduleEnabled(cmd, args[0], true) },
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <schedule-id>",
	Short: "Disable a scheduled run",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setScheduleEnabled(cmd, args[0], false) },
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <schedule-id>",
	Short: "Delete a scheduled run",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the schedule poller until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runScheduleStart,
}

func init() {
	scheduleCreateCmd.Flags().StringVarP(&scheduleWorkflow, "workflow", "w", "", "Stored workflow name (required)")
	scheduleCreateCmd.Flags().StringVar(&scheduleVersion, "version", "", "Stored workflow version")
	scheduleCreateCmd.Flags().StringVarP(&scheduleCron, "cron", "c", "", "Cron expression, e.g. \"0 2 * * *\" (required)")
	scheduleCreateCmd.Flags().StringArrayVarP(&scheduleInputs, "input", "i", nil, "Run input (format: key=value)")
	_ = scheduleCreateCmd.MarkFlagRequired("workflow")
	_ = scheduleCreateCmd.MarkFlagRequired("cron")

	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
}

// scheduleRunner adapts the engine to the poller: scheduled rows reference
// stored workflows by name and version.
type scheduleRunner struct {
	a *app
}

func (r scheduleRunner) RunWorkflow(ctx context.Context, workflowName, version string, inputs map[string]any) (schema.RunStatus, error) {
	doc, err := r.a.store.GetWorkflow(ctx, workflowName, version)
	if err != nil {
		return "", err
	}
	result, err := r.a.engine.Run(ctx, &doc.Definition, inputs)
	if err != nil {
		return "", err
	}
	return result.Status, nil
}

func newPoller(a *app) *schedule.Cron {
	return schedule.New(a.store, scheduleRunner{a: a}, a.logger)
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// The workflow must exist before it can be scheduled.
	if _, err := a.store.GetWorkflow(ctx, scheduleWorkflow, scheduleVersion); err != nil {
		return err
	}

	now := time.Now().UTC()
	next, err := newPoller(a).NextRun(scheduleCron, now)
	if err != nil {
		return err
	}

	inputs, err := parseInputs(scheduleInputs)
	if err != nil {
		return err
	}
	var rawInputs json.RawMessage
	if inputs != nil {
		rawInputs, err = json.Marshal(inputs)
		if err != nil {
			return err
		}
	}

	sr := &store.ScheduledRun{
		ID:              uuid.New().String(),
		WorkflowName:    scheduleWorkflow,
		WorkflowVersion: scheduleVersion,
		CronExpression:  scheduleCron,
		Inputs:          rawInputs,
		Enabled:         true,
		NextRunAt:       &next,
		CreatedAt:       now,
	}
	if err := a.store.CreateScheduledRun(ctx, sr); err != nil {
		return err
	}
	fmt.Printf("Created schedule %s (next run %s)\n", sr.ID, next.Format(time.RFC3339))
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduled, err := a.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{})
	if err != nil {
		return err
	}
	if len(scheduled) == 0 {
		fmt.Println("No scheduled runs.")
		return nil
	}
	for _, sr := range scheduled {
		state := "enabled"
		if !sr.Enabled {
			state = "disabled"
		}
		next := "-"
		if sr.NextRunAt != nil {
			next = sr.NextRunAt.Format(time.RFC3339)
		}
		last := "-"
		if sr.LastRunStatus != "" {
			last = sr.LastRunStatus
		}
		fmt.Printf("%s  %-24s %-16s %-8s next=%s last=%s\n",
			sr.ID, sr.WorkflowName, sr.CronExpression, state, next, last)
	}
	return nil
}

func setScheduleEnabled(cmd *cobra.Command, id string, enabled bool) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.UpdateScheduledRun(ctx, id, store.ScheduledRunUpdate{Enabled: &enabled}); err != nil {
		return err
	}
	if enabled {
		fmt.Printf("Enabled schedule %s\n", id)
	} else {
		fmt.Printf("Disabled schedule %s\n", id)
	}
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteScheduledRun(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted schedule %s\n", args[0])
	return nil
}

func runScheduleStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	poller := newPoller(a)
	if err := poller.RecoverMissed(ctx); err != nil {
		return err
	}
	if err := poller.Start(ctx); err != nil {
		return err
	}

	fmt.Println("Schedule poller running. Press Ctrl-C to stop.")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-ctx.Done():
	}

	return poller.Stop()
}

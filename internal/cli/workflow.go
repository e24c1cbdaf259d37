package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/temple-compute/horus/internal/store"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage stored workflow documents",
}

var workflowPushCmd = &cobra.Command{
	Use:   "push <workflow-file>",
	Short: "Store a workflow so schedules and other hosts can reference it",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowPush,
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored workflows",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowList,
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <name> [version]",
	Short: "Print a stored workflow document",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runWorkflowShow,
}

var workflowDeleteCmd = &cobra.Command{
	Use:   "delete <name> <version>",
	Short: "Delete a stored workflow",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkflowDelete,
}

func init() {
	workflowCmd.AddCommand(workflowPushCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowShowCmd)
	workflowCmd.AddCommand(workflowDeleteCmd)
}

func runWorkflowPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	def, err := loadDefinition(args[0])
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

	now := time.Now().UTC()
	doc := &store.WorkflowDoc{
		Name:       def.Name,
		Version:    def.Version,
		Definition: *def,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.SaveWorkflow(ctx, doc); err != nil {
		return err
	}
	fmt.Printf("Stored workflow %s", def.Name)
	if def.Version != "" {
		fmt.Printf(" (version %s)", def.Version)
	}
	fmt.Println()
	return nil
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.store.ListWorkflows(ctx, store.WorkflowFilter{})
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No stored workflows.")
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("%-32s %-10s %d blocks\n", doc.Name, doc.Version, len(doc.Definition.Blocks))
	}
	return nil
}

func runWorkflowShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	version := ""
	if len(args) > 1 {
		version = args[1]
	}
	doc, err := a.store.GetWorkflow(ctx, args[0], version)
	if err != nil {
		return err
	}
	return printJSON(doc.Definition)
}

func runWorkflowDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteWorkflow(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Deleted workflow %s (version %s)\n", args[0], args[1])
	return nil
}

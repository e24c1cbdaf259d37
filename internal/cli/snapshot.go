package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/internal/version"
)

var snapshotOutput string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage content-addressed workflow snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <workflow-file>",
	Short: "Record a snapshot of a workflow document",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotCreate,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <workflow-name>",
	Short: "List snapshots of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotList,
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <hash>",
	Short: "Write the frozen workflow document of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotExport,
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <hash-a> <hash-b>",
	Short: "Show structural differences between two snapshots",
	Args:  cobra.ExactArgs(2),
	RunE:  runSnapshotDiff,
}

func init() {
	snapshotExportCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "", "Write to file instead of stdout")

	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotDiffCmd)
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
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

	hash, doc, err := version.Snapshot(def, nil)
	if err != nil {
		return err
	}
	snap := &store.Snapshot{
		Hash:         hash,
		WorkflowName: def.Name,
		Document:     doc,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	snaps, err := a.store.ListSnapshots(ctx, args[0])
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Printf("No snapshots for workflow %q.\n", args[0])
		return nil
	}
	for _, snap := range snaps {
		fmt.Printf("%s  %s\n", snap.Hash, snap.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.store.GetSnapshot(ctx, args[0])
	if err != nil {
		return err
	}

	if snapshotOutput != "" {
		if err := os.WriteFile(snapshotOutput, snap.Document, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", snapshotOutput, err)
		}
		fmt.Printf("Exported %s to %s\n", snap.Hash, snapshotOutput)
		return nil
	}
	fmt.Println(string(snap.Document))
	return nil
}

func runSnapshotDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	left, err := a.store.GetSnapshot(ctx, args[0])
	if err != nil {
		return err
	}
	right, err := a.store.GetSnapshot(ctx, args[1])
	if err != nil {
		return err
	}

	changes, err := version.Diff(left.Document, right.Document)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		fmt.Println("Snapshots are identical.")
		return nil
	}
	for _, c := range changes {
		switch c.Kind {
		case "added":
			fmt.Printf("+ %s = %v\n", c.Path, c.New)
		case "removed":
			fmt.Printf("- %s = %v\n", c.Path, c.Old)
		default:
			fmt.Printf("~ %s: %v -> %v\n", c.Path, c.Old, c.New)
		}
	}
	return nil
}

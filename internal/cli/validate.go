package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow-file>",
	Short: "Validate a workflow document",
	Long: `Checks the document against the workflow schema, verifies block types,
targets and output references, and rejects dependency cycles.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
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
	result := v.Validate(def)

	for _, w := range result.Warnings {
		fmt.Printf("warning: %s: %s\n", w.Path, w.Message)
	}
	if !result.Valid() {
		for _, e := range result.Errors {
			fmt.Printf("error: %s: %s\n", e.Path, e.Message)
		}
		exitCode = 1
		return nil
	}

	fmt.Printf("%s is valid (%d blocks)\n", args[0], len(def.Blocks))
	return nil
}

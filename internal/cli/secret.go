package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/temple-compute/horus/pkg/schema"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage vault secrets",
	Long: `Secrets are encrypted with AES-256-GCM before they reach the store
and are referenced from workflows as ` + "`${{secrets.KEY}}`" + `.

The vault key is derived from the HORUS_VAULT_PASSPHRASE environment
variable.`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a secret (reads stdin when value is omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSecretSet,
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secret keys",
	Args:  cobra.NoArgs,
	RunE:  runSecretList,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretDeleteCmd)
}

func requireVault(a *app) error {
	if a.vault == nil {
		return schema.NewError(schema.ErrCodeVault,
			"vault is locked: set HORUS_VAULT_PASSPHRASE")
	}
	return nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := requireVault(a); err != nil {
		return err
	}

	var value []byte
	if len(args) > 1 {
		value = []byte(args[1])
	} else {
		value, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read secret from stdin: %w", err)
		}
	}

	if err := a.vault.Store(ctx, args[0], value); err != nil {
		return err
	}
	fmt.Printf("Stored secret %s\n", args[0])
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := requireVault(a); err != nil {
		return err
	}

	keys, err := a.vault.List(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := requireVault(a); err != nil {
		return err
	}

	if err := a.vault.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted secret %s\n", args[0])
	return nil
}

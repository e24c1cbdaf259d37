package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/temple-compute/horus/internal/config"
	"github.com/temple-compute/horus/internal/remote"
	"github.com/temple-compute/horus/pkg/schema"
)

var remoteAdd remote.Config

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage named SSH execution targets",
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured remotes",
	Args:  cobra.NoArgs,
	RunE:  runRemoteList,
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a remote to the remotes file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoteAdd,
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a remote from the remotes file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoteRemove,
}

var remoteTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Open a connection to a remote and report the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoteTest,
}

func init() {
	remoteAddCmd.Flags().StringVar(&remoteAdd.Host, "host", "", "Hostname or address (required)")
	remoteAddCmd.Flags().IntVar(&remoteAdd.Port, "port", 0, "SSH port (default 22)")
	remoteAddCmd.Flags().StringVar(&remoteAdd.User, "user", "", "SSH user (required)")
	remoteAddCmd.Flags().StringVar(&remoteAdd.IdentityFile, "identity-file", "", "Private key file")
	remoteAddCmd.Flags().StringVar(&remoteAdd.SecretRef, "secret-ref", "", "Vault key holding the private key")
	remoteAddCmd.Flags().StringVar(&remoteAdd.WorkDir, "workdir", "", "Remote working directory")
	remoteAddCmd.Flags().StringVar(&remoteAdd.DialTimeout, "dial-timeout", "", "Dial timeout, e.g. 30s")
	_ = remoteAddCmd.MarkFlagRequired("host")
	_ = remoteAddCmd.MarkFlagRequired("user")

	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteAddCmd)
	remoteCmd.AddCommand(remoteRemoveCmd)
	remoteCmd.AddCommand(remoteTestCmd)
}

func runRemoteList(cmd *cobra.Command, args []string) error {
	remotes, err := config.LoadRemotes()
	if err != nil {
		return err
	}
	if len(remotes) == 0 {
		fmt.Println("No remotes configured.")
		return nil
	}
	for _, r := range remotes {
		port := r.Port
		if port <= 0 {
			port = 22
		}
		auth := r.IdentityFile
		if auth == "" && r.SecretRef != "" {
			auth = "vault:" + r.SecretRef
		}
		fmt.Printf("%-24s %s@%s:%d  %s\n", r.Name, r.User, r.Host, port, auth)
	}
	return nil
}

func runRemoteAdd(cmd *cobra.Command, args []string) error {
	remotes, err := config.LoadRemotes()
	if err != nil {
		return err
	}

	name := args[0]
	for _, r := range remotes {
		if r.Name == name {
			return schema.NewErrorf(schema.ErrCodeConflict, "remote %q already exists", name)
		}
	}
	if remoteAdd.IdentityFile == "" && remoteAdd.SecretRef == "" {
		return schema.NewError(schema.ErrCodeValidation,
			"either --identity-file or --secret-ref is required")
	}

	remoteAdd.Name = name
	remotes = append(remotes, remoteAdd)
	if err := config.SaveRemotes(remotes); err != nil {
		return err
	}
	fmt.Printf("Added remote %s\n", name)
	return nil
}

func runRemoteRemove(cmd *cobra.Command, args []string) error {
	remotes, err := config.LoadRemotes()
	if err != nil {
		return err
	}

	name := args[0]
	kept := remotes[:0]
	found := false
	for _, r := range remotes {
		if r.Name == name {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return schema.NewErrorf(schema.ErrCodeNotFound, "remote %q not found", name)
	}

	if err := config.SaveRemotes(kept); err != nil {
		return err
	}
	fmt.Printf("Removed remote %s\n", name)
	return nil
}

func runRemoteTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.remotes == nil {
		return schema.NewError(schema.ErrCodeRemoteUnavailable, "no remotes configured")
	}

	name := args[0]
	if _, err := a.remotes.Connect(ctx, name); err != nil {
		return err
	}
	defer a.remotes.Disconnect(name)

	fmt.Printf("Remote %s is reachable\n", name)
	return nil
}

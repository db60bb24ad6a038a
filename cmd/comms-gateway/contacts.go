package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/allowlist"
	"github.com/sipico/comms-gateway/internal/storage"
)

// newContactsCmd records whether a person accepts messages written by agents.
// Contacts without a record accept them.
func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Record contact consent to AI-written messages",
	}
	cmd.AddCommand(
		consentCmd("allow", "Accept agent messages to an address", true),
		consentCmd("deny", "Refuse agent messages to an address", false),
	)
	return cmd
}

func consentCmd(use, short string, allowed bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <address>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := allowlist.Normalize(args[0])
			if address == "" {
				return fmt.Errorf("address must not be empty")
			}
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				if err := store.SetContactConsent(ctx, address, allowed); err != nil {
					return err
				}
				verb := "accepts"
				if !allowed {
					verb = "refuses"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now %s agent messages.\n", address, verb)
				return nil
			})
		},
	}
}

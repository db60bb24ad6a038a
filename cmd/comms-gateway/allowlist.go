package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/storage"
)

func newAllowlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Restrict the recipients a key may message",
		Long: "A key with no allowlist entries may message anyone. Once it has at least one,\n" +
			"only matching recipients are accepted. \"*@example.com\" admits a whole domain.",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <id|prefix> <pattern>",
			Short: "Permit a recipient pattern",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				pattern := strings.TrimSpace(args[1])
				if pattern == "" {
					return errors.New("pattern must not be empty")
				}
				return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
					key, err := resolveKey(ctx, store, args[0])
					if err != nil {
						return err
					}
					if err := store.AddAllowlistEntry(ctx, key.ID, pattern); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Key %d (%s) may now message %s.\n", key.ID, key.Name, pattern)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list <id|prefix>",
			Short: "Show the patterns of a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
					key, err := resolveKey(ctx, store, args[0])
					if err != nil {
						return err
					}
					entries, err := store.ListAllowlist(ctx, key.ID)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					if len(entries) == 0 {
						fmt.Fprintf(out, "Key %d (%s) has no allowlist and may message anyone.\n", key.ID, key.Name)
						return nil
					}
					for _, e := range entries {
						fmt.Fprintln(out, e.RecipientPattern)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <id|prefix> <pattern>",
			Short: "Remove a recipient pattern",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
					key, err := resolveKey(ctx, store, args[0])
					if err != nil {
						return err
					}
					if err := store.RemoveAllowlistEntry(ctx, key.ID, strings.TrimSpace(args[1])); err != nil {
						if errors.Is(err, storage.ErrNotFound) {
							return fmt.Errorf("key %d has no pattern %q", key.ID, args[1])
						}
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from key %d (%s).\n", args[1], key.ID, key.Name)
					return nil
				})
			},
		},
	)
	return cmd
}

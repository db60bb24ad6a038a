package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/auth"
	"github.com/sipico/comms-gateway/internal/storage"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage agent API keys",
	}
	cmd.AddCommand(newKeysAddCmd(), newKeysListCmd(), newKeysRevokeCmd(), newKeysWebhookCmd(), newKeysLimitsCmd())
	return cmd
}

// authenticator builds a credential store whose logs stay off the terminal.
func authenticator(store *storage.SQLiteStorage) *auth.Authenticator {
	logger, _, _ := newLogger(io.Discard, "error")
	return auth.NewAuthenticator(store, logger)
}

func newKeysAddCmd() *cobra.Command {
	var perHour, perDay int

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Issue a key for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				issued, err := authenticator(store).Issue(ctx, args[0], perHour, perDay)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created key %d for %s (%d/hour, %d/day).\n\n",
					issued.Key.ID, issued.Key.Name, issued.Key.RateLimitPerHour, issued.Key.RateLimitPerDay)
				color.New(color.FgGreen, color.Bold).Fprintln(out, "  "+issued.Plaintext)
				fmt.Fprintln(out)
				color.New(color.FgYellow).Fprintln(out, "Store this key now. It cannot be shown again.")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&perHour, "per-hour", storage.DefaultRateLimitPerHour, "messages the key may queue per rolling hour")
	cmd.Flags().IntVar(&perDay, "per-day", storage.DefaultRateLimitPerDay, "messages the key may queue per rolling day")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				keys, err := store.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(keys) == 0 {
					fmt.Fprintln(out, "No keys. Create one with: comms-gateway keys add <name>")
					return nil
				}

				t := table.New().
					Border(lipgloss.NormalBorder()).
					Headers("ID", "NAME", "PREFIX", "LIMITS", "WEBHOOK", "LAST USED", "STATUS")
				for _, k := range keys {
					webhookURL := "-"
					if k.WebhookURL != nil {
						webhookURL = *k.WebhookURL
					}
					lastUsed := "never"
					if k.LastUsedAt != nil {
						lastUsed = k.LastUsedAt.Local().Format("2006-01-02 15:04")
					}
					state := color.GreenString("active")
					if k.Revoked() {
						state = color.RedString("revoked")
					}
					t.Row(
						strconv.FormatInt(k.ID, 10),
						k.Name,
						k.KeyPrefix+"…",
						fmt.Sprintf("%d/h %d/d", k.RateLimitPerHour, k.RateLimitPerDay),
						webhookURL,
						lastUsed,
						state,
					)
				}
				fmt.Fprintln(out, t.String())
				return nil
			})
		},
	}
}

func newKeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id|prefix>",
		Short: "Revoke a key; agents using it are rejected immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				key, err := resolveKey(ctx, store, args[0])
				if err != nil {
					return err
				}
				if key.Revoked() {
					return fmt.Errorf("key %d (%s) is already revoked", key.ID, key.Name)
				}
				if err := authenticator(store).Revoke(ctx, key.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked key %d (%s).\n", key.ID, key.Name)
				return nil
			})
		},
	}
}

func newKeysWebhookCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "webhook <id|prefix> [url]",
		Short: "Show, set or remove the status webhook of a key",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remove && len(args) == 2 {
				return errors.New("--remove takes no URL")
			}
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				key, err := resolveKey(ctx, store, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				switch {
				case remove:
					if err := authenticator(store).SetWebhook(ctx, key.ID, nil); err != nil {
						return err
					}
					fmt.Fprintf(out, "Removed webhook of key %d (%s).\n", key.ID, key.Name)
				case len(args) == 2:
					url := args[1]
					if err := authenticator(store).SetWebhook(ctx, key.ID, &url); err != nil {
						return err
					}
					fmt.Fprintf(out, "Webhook of key %d (%s) set to %s.\n", key.ID, key.Name, url)
				case key.WebhookURL == nil:
					fmt.Fprintf(out, "Key %d (%s) has no webhook.\n", key.ID, key.Name)
				default:
					fmt.Fprintln(out, *key.WebhookURL)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the webhook")
	return cmd
}

func newKeysLimitsCmd() *cobra.Command {
	var perHour, perDay int

	cmd := &cobra.Command{
		Use:   "limits <id|prefix>",
		Short: "Change the rate limits of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if perHour <= 0 || perDay <= 0 {
				return errors.New("--per-hour and --per-day must be positive")
			}
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				key, err := resolveKey(ctx, store, args[0])
				if err != nil {
					return err
				}
				if err := store.SetRateLimits(ctx, key.ID, perHour, perDay); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Key %d (%s) now allows %d/hour, %d/day.\n", key.ID, key.Name, perHour, perDay)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&perHour, "per-hour", storage.DefaultRateLimitPerHour, "messages per rolling hour")
	cmd.Flags().IntVar(&perDay, "per-day", storage.DefaultRateLimitPerDay, "messages per rolling day")
	return cmd
}

// Command comms-gateway runs the communication gateway and administers its
// keys, allowlists, content filters and review queue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/config"
	"github.com/sipico/comms-gateway/internal/storage"
)

// version can be overridden at build time via:
// go build -ldflags "-X main.version=1.2.3"
var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "comms-gateway",
		Short: "Human-approved outbound messaging for AI agents",
		Long: color.CyanString("comms-gateway") + " queues SMS, iMessage and email sent by agents\n" +
			"and delivers them only after a person approves each one.\n\n" +
			"Configuration is read from the environment (LISTEN_ADDR, DATABASE_PATH, ...).",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newServeCmd(),
		newApproveCmd(),
		newHistoryCmd(),
		newStatusCmd(),
		newKeysCmd(),
		newAllowlistCmd(),
		newFiltersCmd(),
		newContactsCmd(),
	)
	return root
}

// withStore loads the configuration, opens the database and runs fn.
// Administrative commands do not need senders, so the configuration is
// not fully validated here.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *storage.SQLiteStorage) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close() //nolint:errcheck
	return fn(cmd.Context(), store)
}

// resolveKey finds a key by numeric ID or display prefix.
func resolveKey(ctx context.Context, store *storage.SQLiteStorage, ref string) (*storage.APIKey, error) {
	key, err := store.FindAPIKey(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", ref, err)
	}
	return key, nil
}

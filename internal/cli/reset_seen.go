package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/pebbledb"
	redisclient "affwatch/internal/infra/redis"
)

var resetSeenAll bool

var resetSeenCmd = &cobra.Command{
	Use:   "reset-seen [protocol]",
	Short: "Clear the persistent seen set so transactions can be detected again",
	Args:  cobra.MaximumNArgs(1),
	Run:   runResetSeen,
}

func init() {
	resetSeenCmd.Flags().BoolVar(&resetSeenAll, "all", false, "clear the seen set for every protocol")
	rootCmd.AddCommand(resetSeenCmd)
}

func runResetSeen(cmd *cobra.Command, args []string) {
	if len(args) == 0 && !resetSeenAll {
		fmt.Println("Specify a protocol or pass --all")
		os.Exit(1)
	}

	// Seen ids are stored as protocol:txid, so a protocol maps to a prefix.
	prefix := ""
	if len(args) == 1 {
		prefix = string(domain.ParseProtocol(args[0])) + ":"
	}

	cfg := loadConfig()
	ctx := context.Background()

	var cleared int
	switch cfg.Store.Backend {
	case "pebble":
		path := cfg.Store.Path
		if path == "" {
			path = "data/affwatch"
		}
		store, err := pebbledb.Open(path)
		if err != nil {
			slog.Error("Failed to open store", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = store.Close()
		}()
		cleared, err = store.ClearSeen(ctx, prefix)
		if err != nil {
			slog.Error("Failed to clear seen set", "error", err)
			os.Exit(1)
		}
	case "redis":
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()
		cleared, err = redisclient.NewSeenStore(client).ClearSeen(ctx, prefix)
		if err != nil {
			slog.Error("Failed to clear seen set", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("The memory store keeps no seen set between runs, nothing to clear")
		os.Exit(1)
	}

	fmt.Printf("Cleared %d seen ids\n", cleared)
}

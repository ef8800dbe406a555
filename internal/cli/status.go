package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored record counts and source cursors",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("status reads from PostgreSQL, set database.url")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	counts, err := postgres.NewRecordRepo(db).CountByProtocol(ctx)
	if err != nil {
		slog.Error("Failed to count records", "error", err)
		os.Exit(1)
	}

	protocols := make([]string, 0, len(counts))
	for p := range counts {
		protocols = append(protocols, string(p))
	}
	sort.Strings(protocols)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PROTOCOL\tRECORDS")
	for _, p := range protocols {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", p, counts[domain.Protocol(p)])
	}
	_ = w.Flush()

	cursors, err := postgres.NewCursorRepo(db).All(ctx)
	if err != nil {
		slog.Error("Failed to load cursors", "error", err)
		os.Exit(1)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].Source < cursors[j].Source })

	fmt.Println()
	_, _ = fmt.Fprintln(w, "SOURCE\tPOSITION\tUPDATED")
	for _, c := range cursors {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Source, c.Position, c.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

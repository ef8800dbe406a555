package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"affwatch/internal/control"
)

var (
	runOnce      bool
	runProtocols []string
	runMaxItems  int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan the configured sources for affiliate transactions",
	Run:   runScan,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "single pass over every source, then exit")
	runCmd.Flags().StringArrayVar(&runProtocols, "protocol", nil, "limit the run to a protocol (repeatable)")
	runCmd.Flags().Int64Var(&runMaxItems, "max-items", 0, "stop after this many records (0 = no limit)")
	rootCmd.AddCommand(runCmd)
}

func runScan(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewApp(cfg, control.Options{
		Once:       runOnce,
		Protocols:  runProtocols,
		MaxRecords: runMaxItems,
	})
	if err != nil {
		slog.Error("Failed to initialize scanner", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("Scanner started", "config", cfgPath, "once", runOnce)

	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx)
	}()

	select {
	case err = <-done:
		// Run ended on its own: once mode or the record budget.
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
		select {
		case err = <-done:
		case <-time.After(15 * time.Second):
			slog.Error("Shutdown timed out")
			os.Exit(1)
		}
	}
	if err != nil {
		slog.Error("Scan failed", "error", err)
	}

	if closeErr := app.Close(); closeErr != nil {
		slog.Error("Error during shutdown", "error", closeErr)
		os.Exit(1)
	}
	if err != nil {
		os.Exit(1)
	}

	slog.Info("Scanner stopped gracefully")
}

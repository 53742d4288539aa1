// Package cli is the cobra command tree for the logwatch binary: a default
// run action that wires and starts the engine, plus a status subcommand
// that inspects a running instance's health endpoint.
//
// Grounded on the teacher's internal/cli/root.go (cobra root command,
// signal-handling shutdown block) and cmd/watcher/main.go (config load,
// stylelog/tint init), narrowed from the teacher's multi-chain Watcher to
// this repo's single control.App.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/chainflux/logwatch/internal/control"
	"github.com/chainflux/logwatch/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "logwatch",
	Short: "Reliable blockchain event subscription engine",
	Long:  `logwatch consumes block headers, maintains a chain-tail cache, repairs reorgs, and delivers ordered, de-duplicated log streams to subscribers.`,
	Run:   runLogwatch,
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func runLogwatch(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})

	app, err := control.New(*cfg, slog.Default())
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("failed to start app", "error", err)
		os.Exit(1)
	}
	slog.Info("logwatch started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
}

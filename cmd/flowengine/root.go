// Command flowengine validates and simulates WhatsApp workflow automations.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/automationservice/flowengine/internal/config"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "flowengine",
	Short: "flowengine - WhatsApp workflow automation engine",
	Long: `flowengine executes tenant-scoped WhatsApp workflow automations:
graphs of trigger, condition, message, and tag nodes evaluated against
inbound messages.

Use 'validate' to check workflow definitions, 'simulate' to run an
inbound message through them without touching a live gateway, and
'serve' to run the engine over HTTP with the configured backends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads the config file, or validated defaults when none is set.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader(config.NewValidator())
	if configFile == "" {
		return loader.LoadWithDefaults("")
	}
	return loader.Load(configFile)
}

// newLogger builds the process logger from config and the --verbose flag.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

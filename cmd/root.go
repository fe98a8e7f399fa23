// Package cmd implements the quarry command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrydocs/quarry/internal/app"
	"github.com/quarrydocs/quarry/internal/config"
	"github.com/quarrydocs/quarry/internal/log"
)

var (
	flagDebug    bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Ask questions about your local documents",
	Long: `Quarry indexes Markdown and PDF documents into a local vector
database and answers questions about them with a local Ollama model.

Run "quarry index <dir>" to build the index, then "quarry ask" or
"quarry chat" to query it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "emit logs as JSON")

	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newWipeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// newLogger builds the process logger from the global flags. Logs go to
// stderr so command output on stdout stays clean.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLogs})
}

// setupApp loads configuration and builds the full application. The
// caller must Close the returned App.
func setupApp(ctx context.Context) (*app.App, error) {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return a, nil
}

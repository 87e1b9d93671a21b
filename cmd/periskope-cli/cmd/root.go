package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nfrund/periskope/internal/app"
	"github.com/nfrund/periskope/internal/config"
	"github.com/nfrund/periskope/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "periskope-cli",
	Short: "Periskope command-line client",
	Long: `periskope-cli talks to the Periskope store directly, using the same
configuration as the server (.env or environment variables).

Available commands:
  conversations    List or create conversations
  login            Request a magic link and wait until it is followed
  chat             Follow a conversation live and send messages from stdin

Use "periskope-cli [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// buildDeps opens the configured backend. Tests replace it.
var buildDeps = func(ctx context.Context) (*app.Dependencies, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

// withDeps runs fn against freshly built dependencies and closes them after.
func withDeps(cmd *cobra.Command, fn func(ctx context.Context, deps *app.Dependencies) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	deps, err := buildDeps(ctx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			slog.Warn("Failed to release resources", "error", err)
		}
	}()
	return fn(ctx, deps)
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		// Logs go to stderr so command output stays machine readable.
		level := os.Getenv("LOG_LEVEL")
		if level == "" {
			level = "warn"
		}
		slog.SetDefault(logging.NewWithWriter(os.Stderr, os.Getenv("LOG_FORMAT"), level))
	})
}

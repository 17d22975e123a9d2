// Package cmd implements the ragent command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/avolkov/ragent/internal/app"
	"github.com/avolkov/ragent/internal/config"
	"github.com/avolkov/ragent/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "ragent",
	Short: "A self-correcting assistant over your own documents",
	Long: `ragent answers questions from an indexed knowledge base.

It retrieves relevant passages from PostgreSQL, grades whether they
actually answer the question, and rewrites the query when they do not.
Run "ragent index" to ingest documents, then "ragent chat" to talk.`,
	// Bare invocation starts the interactive chat.
	RunE:          runChat,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. It is the only entry point main calls.
func Execute() error {
	logger := newLogger()
	slog.SetDefault(logger)
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment lowers
// the level; logs go to stderr so stdout stays clean for answers.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.NewWithWriter(os.Stderr, log.Config{Level: level})
}

// setupApp loads configuration and assembles the application. Callers
// own the returned App and must Close it.
func setupApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if cfg.GeminiAPIKey == "" {
		fmt.Fprintln(os.Stderr, "Error: Gemini API key not configured")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Set it in the environment:")
		fmt.Fprintln(os.Stderr, "  export RAGENT_GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get a key at: https://ai.google.dev/")
		return nil, fmt.Errorf("gemini API key not set")
	}

	return app.Setup(ctx, cfg, slog.Default())
}

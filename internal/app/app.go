// Package app assembles the application from its components.
//
// Setup wires configuration, logging, tracing, the database pool, Genkit,
// the knowledge store, the control loop, and the indexer into one App.
// Commands consume the App; they never construct components themselves.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avolkov/ragent/db"
	"github.com/avolkov/ragent/internal/config"
	"github.com/avolkov/ragent/internal/database"
	"github.com/avolkov/ragent/internal/indexer"
	"github.com/avolkov/ragent/internal/knowledge"
	"github.com/avolkov/ragent/internal/loop"
	"github.com/avolkov/ragent/internal/observability"
	"github.com/avolkov/ragent/internal/thread"
	"github.com/avolkov/ragent/internal/webdoc"
)

// App is the application container. Fields are initialized by Setup and
// released by Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit    *genkit.Genkit
	Embedder  ai.Embedder
	Pool      *pgxpool.Pool
	Knowledge *knowledge.Store
	Loop      *loop.Loop
	Indexer   *indexer.Indexer
	Fetcher   *webdoc.Fetcher
	Threads   *thread.Store

	otelShutdown func(context.Context) error
}

// Setup initializes every component in dependency order. On any failure
// the partially built App is torn down before the error is returned.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup after failed setup", "error", err)
			}
		}
	}()

	// Tracing first: Genkit reads the tracer provider at Init.
	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "ragent",
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	if err := db.Migrate(cfg.ConnString()); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.ConnString(), logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.Pool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.GeminiAPIKey}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	store := knowledge.NewStore(pool, embedder, logger)
	a.Knowledge = store

	chatLoop, err := loop.New(loop.Config{
		Genkit:          g,
		Retriever:       store,
		Logger:          logger,
		ModelName:       cfg.ModelName,
		Language:        cfg.Language,
		MaxRewrites:     cfg.MaxRewrites,
		MinContextChars: cfg.MinContextChars,
		SummarizeAfter:  cfg.SummarizeAfter,
		KeepMessages:    cfg.KeepMessages,
		TopK:            cfg.TopK,
		TurnTimeout:     cfg.TurnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating control loop: %w", err)
	}
	a.Loop = chatLoop

	a.Fetcher = webdoc.New(webdoc.Config{}, logger)

	ix, err := indexer.New(store, indexer.Config{
		WatchDir:     cfg.WatchDir,
		Extensions:   cfg.Extensions,
		StateFile:    cfg.StateFile,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating indexer: %w", err)
	}
	a.Indexer = ix

	threads, err := thread.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating thread store: %w", err)
	}
	a.Threads = threads

	logger.Debug("application initialized",
		"model", cfg.ModelName,
		"embedder", cfg.EmbedderModel,
		"watch_dir", cfg.WatchDir)
	return a, nil
}

// Close releases resources in reverse setup order. Safe to call on a
// partially initialized App.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
		a.Pool = nil
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			return fmt.Errorf("shutting down tracing: %w", err)
		}
		a.otelShutdown = nil
	}
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrydocs/quarry/db"
	"github.com/quarrydocs/quarry/internal/chunker"
	"github.com/quarrydocs/quarry/internal/config"
	"github.com/quarrydocs/quarry/internal/embed"
	"github.com/quarrydocs/quarry/internal/engine"
	"github.com/quarrydocs/quarry/internal/ingest"
	"github.com/quarrydocs/quarry/internal/store"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, embedder, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Embedder = embedder

	a.Store = store.New(pool, logger)

	batcher := embed.New(embedder, cfg.EmbedderDim, cfg.EmbedBatchSize, cfg.EmbedWorkers, logger)
	split := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	lockPath := filepath.Join(cfg.HomeDir, "index.lock")
	a.Pipeline = ingest.New(a.Store, batcher, split, cfg.EmbedBatchSize, lockPath, logger)

	generator := engine.NewGenkitGenerator(g, cfg.ModelName,
		cfg.Temperature, cfg.ContextTokens, cfg.MaxOutputTokens)
	a.Engine = engine.New(batcher, a.Store, generator,
		cfg.TopKRetrieve, cfg.TopNRank, cfg.MaxHistoryTurns, logger)

	return a, nil
}

// provideDBPool runs migrations and opens the connection pool with
// pgvector types registered.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := store.NewPool(poolCtx, cfg.PostgresURL())
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// provideGenkit initializes genkit with the Ollama plugin and registers
// the chat model and the embedder. Ollama has no auto-discovery, so both
// must be defined explicitly.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Embedder, error) {
	plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
	g := genkit.Init(ctx, genkit.WithPlugins(plugin))
	if g == nil {
		return nil, nil, errors.New("initializing genkit with ollama plugin")
	}

	plugin.DefineModel(g, ollama.ModelDefinition{
		Name: cfg.ModelName,
		Type: "chat",
	}, nil)
	plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)

	// The ollama embedder is looked up by server address.
	embedder := ollama.Embedder(g, cfg.OllamaHost)
	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not registered", cfg.EmbedderModel)
	}

	slog.Debug("initialized genkit with ollama",
		"model", cfg.ModelName, "embedder", cfg.EmbedderModel, "host", cfg.OllamaHost)
	return g, embedder, nil
}

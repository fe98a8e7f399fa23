// Package app wires configuration, database, models and pipeline
// components into a running application.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrydocs/quarry/internal/config"
	"github.com/quarrydocs/quarry/internal/engine"
	"github.com/quarrydocs/quarry/internal/ingest"
	"github.com/quarrydocs/quarry/internal/store"
)

// App holds every constructed component. Built by Setup, released by
// Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Store    *store.Store
	Pipeline *ingest.Pipeline
	Engine   *engine.Engine
}

// Close releases held resources. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.DBPool = nil
	}
	return nil
}

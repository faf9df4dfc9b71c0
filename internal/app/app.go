// Package app assembles the crmindex components from configuration. Each
// binary under cmd/ builds one App and starts the parts it serves.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/config"
	"github.com/scrypster/crmindex/internal/crm"
	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/internal/llm"
	"github.com/scrypster/crmindex/internal/server"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/internal/storage/postgres"
	"github.com/scrypster/crmindex/internal/storage/sqlite"
)

// DatabaseFile is the sqlite file name inside Storage.DataPath.
const DatabaseFile = "crmindex.db"

// App holds the wired components. Engine workers are not running until
// Start is called.
type App struct {
	Config *config.Config
	Store  storage.Store
	Engine *engine.SyncEngine
	Search *engine.SearchEngine
	CRM    *crm.Service

	started bool
}

// New opens the store, builds the embedding provider and wires the engine
// and CRM service together. notifier overrides the engine as the CRM
// service's change sink; pass nil to embed in process.
func New(ctx context.Context, cfg *config.Config, notifier crm.Notifier) (*App, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbeddingGenerator(ctx, cfg.LLMConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.Embedding.Provider, err)
	}

	eng, err := engine.NewSyncEngine(store, embedder, cfg.EngineConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}

	if notifier == nil {
		notifier = eng
	}

	log.Info().Str("storage", cfg.Storage.Engine).Str("provider", cfg.Embedding.Provider).
		Str("model", eng.Model()).Msg("components initialised")

	return &App{
		Config: cfg,
		Store:  store,
		Engine: eng,
		Search: engine.NewSearchEngine(store, embedder),
		CRM:    crm.NewService(store, notifier),
	}, nil
}

// OpenStore opens the configured database. The sqlite file lives at
// Storage.DataPath/crmindex.db; postgres is migrated on connect.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.NewStore(ctx, cfg.Storage.PostgresDSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, DatabaseFile))
	default:
		return nil, fmt.Errorf("%w: unknown storage engine %q", config.ErrInvalidConfig, cfg.Storage.Engine)
	}
}

// Start launches the sync workers.
func (a *App) Start(ctx context.Context) error {
	if err := a.Engine.Start(ctx); err != nil {
		return err
	}
	a.started = true
	return nil
}

// Deps returns the services the HTTP routes drive.
func (a *App) Deps() server.Deps {
	return server.Deps{
		CRM:      a.CRM,
		Searcher: a.Search,
		Engine:   a.Engine,
		Store:    a.Store,
	}
}

// Close drains the workers and closes the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.started {
		if err := a.Engine.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
		}
		a.started = false
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}

// Command crmindex-mcp serves the crmindex MCP tools over stdio.
//
// All logging goes to stderr: anything else written to stdout corrupts the
// JSON-RPC stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/api/mcp"
	"github.com/scrypster/crmindex/internal/app"
	"github.com/scrypster/crmindex/internal/config"
	"github.com/scrypster/crmindex/internal/logging"
	"github.com/scrypster/crmindex/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	// Console colors would end up in MCP client log files.
	logging.Setup(logging.Options{Level: cfg.Log.Level, Format: "json"}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise")
	}
	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start sync engine")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.ShutdownTimeout)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	var opts []mcp.ServerOption
	if owner := cfg.MCP.OwnerID; owner != "" {
		opts = append(opts, mcp.WithDefaultOwner(owner))
		log.Info().Str("owner_id", owner).Msg("default owner set")
	}
	srv := mcp.NewServer(a.Search, a.Engine, a.Store, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio(server.Version) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("stdio transport stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	}
}

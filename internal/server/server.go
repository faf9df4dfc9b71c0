// Package server provides HTTP server initialization and lifecycle management
// for the crmindex API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/config"
	"github.com/scrypster/crmindex/web/handlers"
)

// Version is reported by /health.
const Version = "1.0.0"

// Deps are the services the routes drive.
type Deps struct {
	CRM      handlers.CRMService
	Searcher handlers.Searcher
	Engine   handlers.EmbeddingEngine
	Store    handlers.EmbeddingStatusStore
}

// NewHandler builds the full route table:
//
//	GET  /health                   no auth
//	GET  /api/ws                   sync-state stream, origin checked
//	POST /api/search
//	POST /api/embeddings/backfill
//	GET  /api/embeddings/status
//	GET  /api/embeddings/jobs
//	POST /api/activities, GET|PATCH|DELETE /api/activities/{id}
//	GET|POST /api/{type}, GET|PATCH|DELETE /api/{type}/{id}
//	GET  /api/{type}/{id}/activities
//
// Everything under /api/ except the stream requires auth in production mode.
func NewHandler(cfg *config.Config, deps Deps, hub *handlers.WebSocketHub) http.Handler {
	records := handlers.NewRecordHandler(deps.CRM)
	activities := handlers.NewActivityHandler(deps.CRM)
	search := handlers.NewSearchHandler(deps.Searcher, cfg.Search.Timeout)
	embeddings := handlers.NewEmbeddingHandler(deps.Engine, deps.Store)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/search", search.Search)

	apiMux.HandleFunc("POST /api/embeddings/backfill", embeddings.Backfill)
	apiMux.HandleFunc("GET /api/embeddings/status", embeddings.Status)
	apiMux.HandleFunc("GET /api/embeddings/jobs", embeddings.Jobs)

	apiMux.HandleFunc("POST /api/activities", activities.Create)
	apiMux.HandleFunc("GET /api/activities/{id}", activities.Get)
	apiMux.HandleFunc("PATCH /api/activities/{id}", activities.Update)
	apiMux.HandleFunc("DELETE /api/activities/{id}", activities.Delete)

	apiMux.HandleFunc("GET /api/{type}", records.List)
	apiMux.HandleFunc("POST /api/{type}", records.Create)
	apiMux.HandleFunc("GET /api/{type}/{id}", records.Get)
	apiMux.HandleFunc("PATCH /api/{type}/{id}", records.Update)
	apiMux.HandleFunc("DELETE /api/{type}/{id}", records.Delete)
	apiMux.HandleFunc("GET /api/{type}/{id}/activities", records.ListActivities)

	mux := http.NewServeMux()

	// Health endpoint, no auth required
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		resp := handlers.HealthResponse{Status: "healthy", Version: Version}
		if deps.Engine != nil {
			resp.QueueSize = deps.Engine.GetQueueSize()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})

	// WebSocket stream (origin validation instead of auth)
	mux.Handle("GET /api/ws", hub)

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	rateLimiter := handlers.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	var handler http.Handler = handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = handlers.SecurityHeaders(handler)
	return handlers.RequestLogger(handler)
}

// Start listens on the configured address and serves until ctx is cancelled.
// It returns the actual address being listened on (useful for testing with
// port 0) and the WebSocketHub for wiring sync-state broadcasts.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, *handlers.WebSocketHub, error) {
	hub := handlers.NewWebSocketHub(cfg.Server.AllowedOrigins...)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           NewHandler(cfg, deps, hub),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}
	actualAddr := listener.Addr().String()

	go hub.Run()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown error")
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}

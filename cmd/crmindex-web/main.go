// Command crmindex-web runs the HTTP API together with the sync workers, the
// scheduled backfill sweep and, when enabled, the NSQ change-event consumer.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"
	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/app"
	"github.com/scrypster/crmindex/internal/config"
	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/internal/logging"
	"github.com/scrypster/crmindex/internal/messaging"
	"github.com/scrypster/crmindex/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("crmindex-web stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Close(ctx)
		return err
	}

	// The server stops on its own context so that it can shut down before
	// the workers drain.
	srvCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	addr, hub, err := server.Start(srvCtx, cfg, a.Deps())
	if err != nil {
		_ = a.Close(ctx)
		return err
	}
	a.Engine.SetOnStateChange(hub.BroadcastStateChange)
	log.Info().Str("addr", addr).Str("mode", cfg.Security.Mode).Msg("crmindex API listening")

	sweep := engine.NewScheduler(a.Engine, a.Store, cfg.Backfill.SweepTimeout)
	if err := sweep.Start(cfg.Backfill.Schedule); err != nil {
		log.Error().Err(err).Msg("failed to schedule backfill sweep")
	}

	var consumer *nsq.Consumer
	if cfg.Messaging.Enabled {
		consumer, err = messaging.Subscribe(messaging.ConsumerConfig{
			Topic:       cfg.Messaging.Topic,
			Channel:     cfg.Messaging.Channel,
			NSQDAddr:    cfg.Messaging.NSQDAddr,
			LookupdAddr: cfg.Messaging.LookupdAddr,
			MaxInFlight: cfg.Messaging.MaxInFlight,
			MaxAttempts: cfg.Messaging.MaxAttempts,
		}, messaging.NewConsumer(a.Engine))
		if err != nil {
			log.Error().Err(err).Msg("change-event consumer unavailable; continuing without it")
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.ShutdownTimeout)
	defer cancel()

	if consumer != nil {
		consumer.Stop()
		select {
		case <-consumer.StopChan:
		case <-shutdownCtx.Done():
		}
	}
	stopServer()
	sweep.Stop(shutdownCtx)

	return a.Close(shutdownCtx)
}

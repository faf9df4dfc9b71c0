// Command crmindex-import loads a YAML dataset of deals, contacts, leads and
// activities for one owner.
//
// By default records are embedded in process and a backfill runs afterwards
// to pick up anything the sync queue could not take. With
// CRMINDEX_MESSAGING_PUBLISH=true every write is published to NSQ instead,
// for crmindex-web consumers to embed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/app"
	"github.com/scrypster/crmindex/internal/config"
	"github.com/scrypster/crmindex/internal/crm"
	"github.com/scrypster/crmindex/internal/importer"
	"github.com/scrypster/crmindex/internal/logging"
	"github.com/scrypster/crmindex/internal/messaging"
)

type options struct {
	file     string
	owner    string
	backfill bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("crmindex-import", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.file, "file", "", "YAML dataset to import (required)")
	fs.StringVar(&opts.owner, "owner", "", "owner the records belong to (required)")
	fs.BoolVar(&opts.backfill, "backfill", true, "run a backfill after importing (ignored when publishing)")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.file == "" && fs.NArg() > 0 {
		opts.file = fs.Arg(0)
	}
	if opts.file == "" || opts.owner == "" {
		fs.Usage()
		return opts, errors.New("-file and -owner are required")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	if result.Failed > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) (*importer.ImportResult, error) {
	var notifier crm.Notifier
	if cfg.Messaging.Publish {
		pub, err := messaging.NewPublisher(cfg.Messaging.NSQDAddr, cfg.Messaging.Topic)
		if err != nil {
			return nil, err
		}
		defer pub.Stop()
		notifier = pub
	}

	a, err := app.New(ctx, cfg, notifier)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		if err := a.Start(ctx); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	result, importErr := importer.New(a.CRM).ImportFile(ctx, opts.owner, opts.file)

	if importErr == nil && notifier == nil && opts.backfill {
		summary, err := a.Engine.BackfillAll(ctx, opts.owner, false)
		if err != nil {
			log.Warn().Err(err).Str("owner_id", opts.owner).Msg("post-import backfill failed")
		} else {
			log.Info().Str("owner_id", opts.owner).Int("errors", summary.Errors).
				Int64("duration_ms", summary.DurationMs).Msg("post-import backfill finished")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.ShutdownTimeout)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	return result, importErr
}

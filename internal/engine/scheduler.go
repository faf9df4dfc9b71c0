package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
)

// OwnerLister lists the owners a sweep should cover.
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]string, error)
}

// Scheduler periodically backfills every owner's records so anything a
// trigger missed (full queue, provider outage, crash) is eventually embedded.
type Scheduler struct {
	engine  *SyncEngine
	owners  OwnerLister
	cron    *cron.Cron
	timeout time.Duration
}

// NewScheduler creates a sweep scheduler. timeout bounds a single sweep.
func NewScheduler(engine *SyncEngine, owners OwnerLister, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger := cronLogger{}
	return &Scheduler{
		engine:  engine,
		owners:  owners,
		timeout: timeout,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
	}
}

// Start schedules the sweep with a standard five-field cron expression.
// An empty schedule disables the sweep.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		log.Info().Msg("backfill sweep disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, s.RunNow); err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("schedule", schedule).Msg("backfill sweep scheduled")
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("backfill sweep still running at shutdown")
	}
}

// RunNow performs one sweep over all owners synchronously.
func (s *Scheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	owners, err := s.owners.ListOwners(ctx)
	if err != nil {
		log.Error().Err(err).Msg("backfill sweep failed to list owners")
		return
	}

	start := time.Now()
	var processed, failed int
	for _, owner := range owners {
		summary, err := s.engine.BackfillAll(ctx, owner, false)
		if errors.Is(err, ErrBackfillRunning) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("owner_id", owner).Msg("backfill sweep failed for owner")
		}
		processed += summary.Deals.Processed + summary.Contacts.Processed + summary.Leads.Processed
		failed += summary.Errors
	}

	log.Info().Int("owners", len(owners)).Int("processed", processed).Int("errors", failed).
		Dur("duration", time.Since(start)).Msg("backfill sweep completed")
}

// cronLogger adapts cron's logger interface to phuslu/log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Str("details", fmt.Sprint(keysAndValues...)).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Str("details", fmt.Sprint(keysAndValues...)).Msg("cron: " + msg)
}

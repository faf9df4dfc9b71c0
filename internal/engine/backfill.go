package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/crmindex/pkg/types"
)

// BackfillResult counts what one backfill pass did for a record type.
type BackfillResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

func (r *BackfillResult) add(o BackfillResult) {
	r.Processed += o.Processed
	r.Errors += o.Errors
	r.Skipped += o.Skipped
}

// BackfillSummary aggregates a backfill over every record type.
type BackfillSummary struct {
	Deals      BackfillResult `json:"deals"`
	Contacts   BackfillResult `json:"contacts"`
	Leads      BackfillResult `json:"leads"`
	Errors     int            `json:"errors"`
	DurationMs int64          `json:"durationMs"`
}

// Backfill embeds every record of one type that lacks a fresh vector.
// Per-record failures are counted and logged and never abort the run.
// Running it twice without intervening changes processes nothing the
// second time. pageSize <= 0 uses the configured default.
func (e *SyncEngine) Backfill(ctx context.Context, recordType types.RecordType, ownerID string, pageSize int) (BackfillResult, error) {
	var total BackfillResult
	if !recordType.Valid() {
		return total, fmt.Errorf("%w: unknown record type %q", types.ErrInvalidInput, recordType)
	}
	if ownerID == "" {
		return total, fmt.Errorf("%w: owner id is required", types.ErrInvalidInput)
	}
	if pageSize <= 0 {
		pageSize = e.config.BackfillPageSize
	}

	// Embedded records leave the missing set, so the offset only moves past
	// records that are still missing after this page.
	model := e.embedder.GetModel()
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		ids, err := e.store.ListMissing(ctx, recordType, ownerID, model, pageSize, offset)
		if err != nil {
			return total, fmt.Errorf("%w: list missing %s: %v", types.ErrPersistence, recordType.Plural(), err)
		}

		page, remaining := e.backfillPage(ctx, ownerID, recordType, ids)
		total.add(page)
		offset += remaining

		if len(ids) < pageSize {
			break
		}
	}

	log.Info().Str("owner_id", ownerID).Str("record_type", string(recordType)).
		Int("processed", total.Processed).Int("errors", total.Errors).Int("skipped", total.Skipped).
		Msg("backfill finished")
	return total, nil
}

// backfillPage processes one page concurrently. remaining is the number of
// IDs from the page that are still missing afterwards.
func (e *SyncEngine) backfillPage(ctx context.Context, ownerID string, recordType types.RecordType, ids []string) (result BackfillResult, remaining int) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.config.BackfillConcurrency)

	for _, id := range ids {
		ref := types.RecordRef{Type: recordType, ID: id}
		g.Go(func() error {
			job := &syncJob{OwnerID: ownerID, Ref: ref, Trigger: types.TriggerBackfill, QueuedAt: time.Now()}
			job.JobID = e.recordJob(ctx, job)
			e.finishJob(ctx, job.JobID, types.JobProcessing, "")

			outcome, err := e.Process(ctx, ownerID, ref)
			status, msg := jobResult(outcome, err)
			e.finishJob(ctx, job.JobID, status, msg)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeEmbedded:
				result.Processed++
			case OutcomeUnchanged:
				result.Processed++
				remaining++
			case OutcomeNotFound:
				result.Skipped++
			case OutcomeStale:
				result.Skipped++
				remaining++
			default:
				result.Errors++
				remaining++
			}
			return nil
		})
	}
	_ = g.Wait()
	return result, remaining
}

// BackfillAll backfills deals, contacts and leads in that order. With force
// set, every existing vector is invalidated first so all records are
// re-embedded, e.g. after switching the embedding model.
func (e *SyncEngine) BackfillAll(ctx context.Context, ownerID string, force bool) (BackfillSummary, error) {
	var summary BackfillSummary
	if ownerID == "" {
		return summary, fmt.Errorf("%w: owner id is required", types.ErrInvalidInput)
	}

	e.backfillMu.Lock()
	if e.backfillRunning[ownerID] {
		e.backfillMu.Unlock()
		return summary, ErrBackfillRunning
	}
	e.backfillRunning[ownerID] = true
	e.backfillMu.Unlock()
	defer func() {
		e.backfillMu.Lock()
		delete(e.backfillRunning, ownerID)
		e.backfillMu.Unlock()
	}()

	start := time.Now()
	for _, rt := range types.AllRecordTypes {
		if force {
			n, err := e.store.Invalidate(ctx, rt, ownerID)
			if err != nil {
				return summary, fmt.Errorf("%w: invalidate %s: %v", types.ErrPersistence, rt.Plural(), err)
			}
			log.Info().Str("owner_id", ownerID).Str("record_type", string(rt)).Int("invalidated", n).Msg("forced re-embed")
		}

		res, err := e.Backfill(ctx, rt, ownerID, 0)
		switch rt {
		case types.RecordTypeDeal:
			summary.Deals = res
		case types.RecordTypeContact:
			summary.Contacts = res
		case types.RecordTypeLead:
			summary.Leads = res
		}
		summary.Errors += res.Errors
		if err != nil {
			return summary, err
		}
	}
	summary.DurationMs = time.Since(start).Milliseconds()
	return summary, nil
}

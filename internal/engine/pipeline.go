package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/composer"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// Process brings one record's embedding up to date with its current content.
// It is what queued jobs and backfill run for each record.
//
// A record that no longer exists yields OutcomeNotFound and no error. A
// result discarded because the content changed mid-flight yields
// OutcomeStale and ErrStaleContent; the record's state is then left to
// whichever run owns the current content. Provider and store failures yield
// OutcomeFailed; the record moves through Failed back to Unembedded.
func (e *SyncEngine) Process(ctx context.Context, ownerID string, ref types.RecordRef) (Outcome, error) {
	if ownerID == "" {
		return OutcomeFailed, fmt.Errorf("%w: owner id is required", types.ErrInvalidInput)
	}
	if err := ref.Validate(); err != nil {
		return OutcomeFailed, err
	}

	e.states.begin(ownerID, ref)
	e.transition(ownerID, ref, types.SyncEmbedding, nil)
	outcome, err := e.embedRecord(ctx, ownerID, ref)
	others := e.states.end(ownerID, ref)

	switch outcome {
	case OutcomeEmbedded, OutcomeUnchanged:
		e.transition(ownerID, ref, types.SyncEmbedded, nil)
	case OutcomeNotFound:
		log.Info().Str("owner_id", ownerID).Str("record_type", string(ref.Type)).Str("record_id", ref.ID).
			Msg("record no longer exists, skipping embedding")
		if prev := e.states.forget(ownerID, ref); prev != types.SyncUnembedded {
			e.emit(ownerID, ref, prev, types.SyncUnembedded, "")
		}
		return outcome, nil
	case OutcomeStale:
		log.Info().Str("owner_id", ownerID).Str("record_type", string(ref.Type)).Str("record_id", ref.ID).
			Msg("record changed during embedding, discarding result")
		switch {
		case e.vectorIsCurrent(ctx, ownerID, ref):
			e.transition(ownerID, ref, types.SyncEmbedded, nil)
		case others > 0:
			// A newer run is embedding the current content.
		default:
			e.transition(ownerID, ref, types.SyncUnembedded, nil)
		}
	default:
		log.Error().Err(err).Str("owner_id", ownerID).Str("record_type", string(ref.Type)).Str("record_id", ref.ID).
			Msg("embedding failed")
		e.transition(ownerID, ref, types.SyncFailed, err)
		e.transition(ownerID, ref, types.SyncUnembedded, nil)
	}
	return outcome, err
}

// vectorIsCurrent reports whether the stored vector was computed from the
// record's current content by the current model.
func (e *SyncEngine) vectorIsCurrent(ctx context.Context, ownerID string, ref types.RecordRef) bool {
	hash, err := e.store.ContentHash(ctx, ownerID, ref)
	if err != nil {
		return false
	}
	emb, err := e.store.Get(ctx, ownerID, ref)
	if err != nil {
		return false
	}
	return emb.SourceHash == hash && emb.Model == e.embedder.GetModel()
}

// embedRecord runs compose, fingerprint, embed and guarded upsert.
func (e *SyncEngine) embedRecord(ctx context.Context, ownerID string, ref types.RecordRef) (Outcome, error) {
	rec, err := e.store.GetRecord(ctx, ownerID, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: load %s: %v", types.ErrPersistence, ref, err)
	}
	acts, err := e.store.ListActivities(ctx, ownerID, ref)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: load activities of %s: %v", types.ErrPersistence, ref, err)
	}

	hash := composer.ContentHash(rec, acts)
	model := e.embedder.GetModel()

	existing, err := e.store.Get(ctx, ownerID, ref)
	if err == nil && existing.SourceHash == hash && existing.Model == model {
		return OutcomeUnchanged, nil
	}

	vec, err := e.embedWithRetry(ctx, composer.ComposeLimited(rec, acts, e.config.MaxTextLength))
	if err != nil {
		return OutcomeFailed, err
	}

	err = e.store.Upsert(ctx, ownerID, ref, types.Embedding{
		Vector:     vec,
		Dimension:  len(vec),
		Model:      model,
		SourceHash: hash,
		ComputedAt: time.Now().UTC(),
	})
	switch {
	case err == nil:
		return OutcomeEmbedded, nil
	case errors.Is(err, storage.ErrStale):
		return OutcomeStale, fmt.Errorf("%w: %s", types.ErrStaleContent, ref)
	case errors.Is(err, storage.ErrNotFound):
		return OutcomeNotFound, nil
	default:
		return OutcomeFailed, fmt.Errorf("%w: store embedding for %s: %v", types.ErrPersistence, ref, err)
	}
}

// embedWithRetry calls the provider with bounded exponential backoff.
// Invalid input and non-retryable provider errors stop immediately.
func (e *SyncEngine) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.config.RetryInitialInterval
	bo.MaxInterval = e.config.RetryMaxInterval
	bo.MaxElapsedTime = 0

	var vec []float32
	op := func() error {
		v, err := e.embedder.Embed(ctx, text)
		if err != nil {
			if !types.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		vec = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("embedding call failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.config.MaxRetries)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return vec, nil
}

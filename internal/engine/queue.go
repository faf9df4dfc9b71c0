package engine

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/pkg/types"
)

const queueFullMessage = "queue full"

// enqueue records a pending job and tries to queue it without blocking.
// Returns true if the job was queued. A job that could not be queued is
// marked failed; the record stays Unembedded for backfill.
func (e *SyncEngine) enqueue(ctx context.Context, ownerID string, ref types.RecordRef, trigger types.Trigger) bool {
	if ownerID == "" || ref.Validate() != nil {
		log.Warn().Str("owner_id", ownerID).Str("record", ref.String()).Msg("ignoring sync trigger with invalid reference")
		return false
	}

	job := &syncJob{
		OwnerID:  ownerID,
		Ref:      ref,
		Trigger:  trigger,
		QueuedAt: time.Now(),
	}
	job.JobID = e.recordJob(ctx, job)

	if e.tryQueue(job) {
		return true
	}

	log.Warn().Str("owner_id", ownerID).Str("record_type", string(ref.Type)).Str("record_id", ref.ID).
		Int("queue_size", e.config.QueueSize).Msg("sync queue full or closed, dropping job")
	e.finishJob(ctx, job.JobID, types.JobFailed, queueFullMessage)
	return false
}

// tryQueue sends job while holding the read lock so Shutdown cannot close
// the channel mid-send.
func (e *SyncEngine) tryQueue(job *syncJob) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.started || e.shuttingDown {
		return false
	}
	select {
	case e.queue <- job:
		return true
	default:
		return false
	}
}

// recordJob persists a pending EmbeddingJob and returns its ID, or "" if the
// job history could not be written.
func (e *SyncEngine) recordJob(ctx context.Context, job *syncJob) string {
	row := &types.EmbeddingJob{
		ID:         newJobID(),
		OwnerID:    job.OwnerID,
		RecordType: job.Ref.Type,
		RecordID:   job.Ref.ID,
		Trigger:    job.Trigger,
		Status:     types.JobPending,
	}
	if err := e.store.CreateJob(context.WithoutCancel(ctx), row); err != nil {
		log.Warn().Err(err).Str("owner_id", job.OwnerID).Str("record", job.Ref.String()).Msg("failed to record embedding job")
		return ""
	}
	return row.ID
}

// finishJob moves a persisted job to a new status. Missing job IDs are ignored.
func (e *SyncEngine) finishJob(ctx context.Context, jobID string, status types.JobStatus, errMsg string) {
	if jobID == "" {
		return
	}
	if err := e.store.UpdateJobStatus(context.WithoutCancel(ctx), jobID, status, errMsg); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Str("status", string(status)).Msg("failed to update embedding job")
	}
}

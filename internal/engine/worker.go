package engine

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/pkg/types"
)

// syncWorker processes jobs until the queue is closed.
func (e *SyncEngine) syncWorker(ctx context.Context, workerID int, queue <-chan *syncJob) {
	defer e.workerWG.Done()

	log.Debug().Int("worker", workerID).Msg("sync worker started")
	for job := range queue {
		e.runJob(ctx, workerID, job)
	}
	log.Debug().Int("worker", workerID).Msg("sync worker stopped")
}

// runJob processes one queued job and records its outcome.
func (e *SyncEngine) runJob(ctx context.Context, workerID int, job *syncJob) {
	e.finishJob(ctx, job.JobID, types.JobProcessing, "")

	outcome, err := e.Process(ctx, job.OwnerID, job.Ref)

	status, msg := jobResult(outcome, err)
	e.finishJob(ctx, job.JobID, status, msg)

	log.Debug().Int("worker", workerID).Str("owner_id", job.OwnerID).Str("record", job.Ref.String()).
		Str("trigger", string(job.Trigger)).Str("outcome", string(outcome)).
		Dur("latency", time.Since(job.QueuedAt)).Msg("sync job finished")
}

// jobResult maps a processing outcome to the persisted job status.
func jobResult(outcome Outcome, err error) (types.JobStatus, string) {
	switch outcome {
	case OutcomeEmbedded, OutcomeUnchanged, OutcomeNotFound:
		return types.JobCompleted, ""
	}
	if err != nil {
		return types.JobFailed, err.Error()
	}
	return types.JobFailed, string(outcome)
}

// startWorkerPool starts the worker goroutines.
func (e *SyncEngine) startWorkerPool(ctx context.Context) {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWG.Add(1)
		go e.syncWorker(ctx, i, e.queue)
	}
}

// stopWorkerPool waits for the workers to drain the closed queue. When the
// shutdown timeout or ctx expires first, in-flight jobs are cancelled and the
// workers are still waited for, so none outlive the call.
func (e *SyncEngine) stopWorkerPool(ctx context.Context, cancel context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if e.config.ShutdownTimeout > 0 {
		timer := time.NewTimer(e.config.ShutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
		log.Info().Msg("all sync workers finished gracefully")
		return nil
	case <-timeout:
		log.Warn().Msg("shutdown timeout reached, cancelling in-flight sync jobs")
		cancel()
		<-done
		return nil
	case <-ctx.Done():
		log.Warn().Msg("context cancelled, cancelling in-flight sync jobs")
		cancel()
		<-done
		return ctx.Err()
	}
}

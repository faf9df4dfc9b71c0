package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/llm"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// SyncEngine keeps record embeddings in sync with record content.
// Trigger methods never block the caller and never return errors: failures
// are logged, recorded in the job history and left for backfill to pick up.
type SyncEngine struct {
	config Config

	store    storage.Store
	embedder llm.EmbeddingGenerator

	// Worker pool
	queue        chan *syncJob
	workerWG     sync.WaitGroup
	workerCtx    context.Context
	workerCancel context.CancelFunc

	states *stateTracker

	// Owners with a backfill in progress
	backfillMu      sync.Mutex
	backfillRunning map[string]bool

	// State management
	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	onStateChange func(StateChange)
}

// NewSyncEngine creates a sync engine. Call Start before triggering work.
func NewSyncEngine(store storage.Store, embedder llm.EmbeddingGenerator, cfg Config) (*SyncEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding generator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &SyncEngine{
		config:          cfg,
		store:           store,
		embedder:        embedder,
		queue:           make(chan *syncJob, cfg.QueueSize),
		states:          newStateTracker(),
		backfillRunning: make(map[string]bool),
	}, nil
}

// SetOnStateChange sets a callback fired on every sync state transition.
// The callback runs on the worker goroutine and must not block.
func (e *SyncEngine) SetOnStateChange(callback func(StateChange)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStateChange = callback
}

// Start launches the worker pool.
func (e *SyncEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	if e.queue == nil {
		// A previous Shutdown closed the queue.
		e.queue = make(chan *syncJob, e.config.QueueSize)
	}

	e.workerCtx, e.workerCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.startWorkerPool(e.workerCtx)
	e.started = true

	log.Info().Int("workers", e.config.NumWorkers).Int("queue_size", e.config.QueueSize).
		Str("model", e.embedder.GetModel()).Msg("sync engine started")
	return nil
}

// Shutdown stops accepting jobs and drains the queue. In-flight work is
// cancelled once ShutdownTimeout or ctx expires.
func (e *SyncEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine not started")
	}
	e.shuttingDown = true
	// Enqueue sends while holding the read lock, so closing here never
	// races a send.
	close(e.queue)
	pending := len(e.queue)
	cancel := e.workerCancel
	e.mu.Unlock()

	log.Info().Int("pending", pending).Msg("shutting down sync engine")

	err := e.stopWorkerPool(ctx, cancel)

	e.mu.Lock()
	e.workerCancel()
	e.queue = nil
	e.started = false
	e.shuttingDown = false
	e.mu.Unlock()

	log.Info().Msg("sync engine shut down")
	return err
}

// RecordCreated schedules embedding of a new record. It reports whether the
// job was queued.
func (e *SyncEngine) RecordCreated(ctx context.Context, ownerID string, ref types.RecordRef) bool {
	return e.enqueue(ctx, ownerID, ref, types.TriggerRecordCreated)
}

// RecordUpdated schedules re-embedding after a content change. Callers should
// only invoke it when the embeddable content actually changed.
func (e *SyncEngine) RecordUpdated(ctx context.Context, ownerID string, ref types.RecordRef) bool {
	return e.enqueue(ctx, ownerID, ref, types.TriggerRecordUpdated)
}

// ActivityChanged schedules re-embedding of every distinct parent. Pass both
// the old and the new parent when an activity moved.
func (e *SyncEngine) ActivityChanged(ctx context.Context, ownerID string, parents ...types.RecordRef) {
	seen := make(map[types.RecordRef]bool, len(parents))
	for _, ref := range parents {
		if ref.ID == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		e.enqueue(ctx, ownerID, ref, types.TriggerActivityChanged)
	}
}

// RecordDeleted clears the record's vector and forgets its state. The store
// normally removed the vector together with the row already.
func (e *SyncEngine) RecordDeleted(ctx context.Context, ownerID string, ref types.RecordRef) {
	if err := e.store.Delete(ctx, ownerID, ref); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("owner_id", ownerID).Str("record_type", string(ref.Type)).
			Str("record_id", ref.ID).Msg("failed to clear embedding of deleted record")
	}
	if prev := e.states.forget(ownerID, ref); prev != types.SyncUnembedded {
		e.emit(ownerID, ref, prev, types.SyncUnembedded, "")
	}
}

// State returns the current sync state of a record.
func (e *SyncEngine) State(ownerID string, ref types.RecordRef) types.SyncState {
	return e.states.get(ownerID, ref)
}

// StateCounts tallies the tracked sync states of one owner's records.
// Records never touched since startup are not counted.
func (e *SyncEngine) StateCounts(ownerID string) map[types.SyncState]int {
	return e.states.counts(ownerID)
}

// GetQueueSize returns the current number of jobs in the queue.
func (e *SyncEngine) GetQueueSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queue)
}

// Model returns the embedding model vectors are computed with.
func (e *SyncEngine) Model() string {
	return e.embedder.GetModel()
}

// transition moves a record's state and notifies the listener.
func (e *SyncEngine) transition(ownerID string, ref types.RecordRef, next types.SyncState, cause error) {
	prev, changed := e.states.set(ownerID, ref, next)
	if !changed {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	e.emit(ownerID, ref, prev, next, msg)
}

func (e *SyncEngine) emit(ownerID string, ref types.RecordRef, from, to types.SyncState, msg string) {
	e.mu.RLock()
	cb := e.onStateChange
	e.mu.RUnlock()
	if cb == nil {
		return
	}
	cb(StateChange{
		OwnerID:    ownerID,
		RecordType: ref.Type,
		RecordID:   ref.ID,
		From:       from,
		To:         to,
		Error:      msg,
		At:         time.Now().UTC(),
	})
}

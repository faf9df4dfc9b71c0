// Package engine keeps record embeddings in sync with CRM content and serves
// semantic search over them.
//
// Triggers from the CRUD path are non-blocking: they enqueue a job onto a
// bounded queue drained by a fixed worker pool. Each job composes the
// record's text, embeds it and stores the vector guarded by the record's
// content fingerprint, so a result computed from outdated content never
// overwrites a newer one.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/crmindex/pkg/types"
)

// ErrBackfillRunning is returned when a backfill for the same owner is
// already in progress.
var ErrBackfillRunning = errors.New("backfill already running for owner")

// syncJob is a queued request to (re)embed one record.
type syncJob struct {
	// JobID is the persisted EmbeddingJob this run reports to. Empty if the
	// job row could not be created.
	JobID string

	OwnerID string
	Ref     types.RecordRef
	Trigger types.Trigger

	// QueuedAt is when the job was queued.
	QueuedAt time.Time
}

// Outcome summarises what processing did for one record.
type Outcome string

const (
	// OutcomeEmbedded means a new vector was computed and stored.
	OutcomeEmbedded Outcome = "embedded"

	// OutcomeUnchanged means the stored vector already matched the current
	// content and model; the provider was not called.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeNotFound means the record no longer exists.
	OutcomeNotFound Outcome = "not_found"

	// OutcomeStale means the content changed while the vector was being
	// computed and the result was discarded.
	OutcomeStale Outcome = "stale"

	// OutcomeFailed means the provider or the store failed.
	OutcomeFailed Outcome = "failed"
)

// StateChange is emitted whenever a record's sync state moves.
type StateChange struct {
	OwnerID    string           `json:"ownerId"`
	RecordType types.RecordType `json:"recordType"`
	RecordID   string           `json:"recordId"`
	From       types.SyncState  `json:"from"`
	To         types.SyncState  `json:"to"`
	Error      string           `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}

// Config holds configuration for the sync engine.
type Config struct {
	// NumWorkers is the number of sync worker goroutines (default: 4).
	NumWorkers int

	// QueueSize is the size of the job queue buffer (default: 1000).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// MaxRetries bounds provider retries per record (default: 3).
	MaxRetries int

	// RetryInitialInterval is the first backoff delay (default: 500ms).
	RetryInitialInterval time.Duration

	// RetryMaxInterval caps the backoff delay (default: 10s).
	RetryMaxInterval time.Duration

	// MaxTextLength caps the composed text sent to the provider, in bytes.
	// Zero disables the cap (default: 24000).
	MaxTextLength int

	// BackfillPageSize is the page size used by Backfill when the caller
	// passes zero (default: 10).
	BackfillPageSize int

	// BackfillConcurrency bounds concurrent records per backfill page (default: 4).
	BackfillConcurrency int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:           4,
		QueueSize:            1000,
		ShutdownTimeout:      30 * time.Second,
		MaxRetries:           3,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     10 * time.Second,
		MaxTextLength:        24000,
		BackfillPageSize:     10,
		BackfillConcurrency:  4,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.RetryInitialInterval <= 0 || c.RetryMaxInterval < c.RetryInitialInterval {
		return fmt.Errorf("retry intervals must satisfy 0 < initial <= max, got %v/%v", c.RetryInitialInterval, c.RetryMaxInterval)
	}

	if c.MaxTextLength < 0 {
		return fmt.Errorf("MaxTextLength must be >= 0, got %d", c.MaxTextLength)
	}

	if c.BackfillPageSize < 1 {
		return fmt.Errorf("BackfillPageSize must be >= 1, got %d", c.BackfillPageSize)
	}

	if c.BackfillConcurrency < 1 {
		return fmt.Errorf("BackfillConcurrency must be >= 1, got %d", c.BackfillConcurrency)
	}

	return nil
}

func newJobID() string {
	return uuid.NewString()
}

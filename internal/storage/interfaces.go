// Package storage defines the persistence contracts for CRM records, their
// activities, their embeddings and the embedding job history.
//
// Every operation is scoped to an owner (tenant). Implementations must filter
// on owner_id in every query; returning another owner's rows is a bug.
package storage

import (
	"context"

	"github.com/scrypster/crmindex/pkg/types"
)

// RecordStore provides CRUD for deals, contacts and leads.
//
// Writes recompute the record's content fingerprint in the same transaction,
// so the fingerprint always reflects the current fields and activities.
type RecordStore interface {
	// CreateRecord inserts a new record.
	CreateRecord(ctx context.Context, record *types.Record) error

	// UpdateRecord replaces the record's scalar fields.
	// Returns ErrNotFound if the record doesn't exist for the owner.
	UpdateRecord(ctx context.Context, record *types.Record) error

	// GetRecord retrieves one record.
	// Returns ErrNotFound if the record doesn't exist for the owner.
	GetRecord(ctx context.Context, ownerID string, ref types.RecordRef) (*types.Record, error)

	// DeleteRecord removes the record together with its embedding.
	// Activities that referenced it are detached.
	DeleteRecord(ctx context.Context, ownerID string, ref types.RecordRef) error

	// ListRecords lists an owner's records of one type, newest first.
	ListRecords(ctx context.Context, recordType types.RecordType, ownerID string, opts ListOptions) (*PaginatedResult[types.Record], error)

	// ListOwners returns every owner that has at least one record.
	ListOwners(ctx context.Context) ([]string, error)
}

// ActivityStore provides CRUD for activities. Every write refreshes the
// content fingerprint of the affected parent records.
type ActivityStore interface {
	// CreateActivity inserts an activity. Returns ErrNotFound if the
	// referenced parent doesn't exist for the owner.
	CreateActivity(ctx context.Context, activity *types.Activity) error

	// UpdateActivity replaces an activity and returns the previous version,
	// so callers can tell whether the parent changed.
	UpdateActivity(ctx context.Context, activity *types.Activity) (*types.Activity, error)

	// GetActivity retrieves one activity.
	GetActivity(ctx context.Context, ownerID, id string) (*types.Activity, error)

	// DeleteActivity removes an activity and returns it.
	DeleteActivity(ctx context.Context, ownerID, id string) (*types.Activity, error)

	// ListActivities returns the activities attached to a record, newest first.
	ListActivities(ctx context.Context, ownerID string, ref types.RecordRef) ([]types.Activity, error)
}

// EmbeddingStore persists one vector per record.
type EmbeddingStore interface {
	// Upsert stores the vector for a record, overwriting any previous one.
	// The write only lands if emb.SourceHash equals the record's current
	// content fingerprint; otherwise ErrStale is returned and nothing changes.
	// Returns ErrNotFound if the record doesn't exist for the owner.
	Upsert(ctx context.Context, ownerID string, ref types.RecordRef, emb types.Embedding) error

	// Get returns the stored vector. Returns ErrNotFound if there is none.
	Get(ctx context.Context, ownerID string, ref types.RecordRef) (*types.Embedding, error)

	// ContentHash returns the record's current content fingerprint.
	ContentHash(ctx context.Context, ownerID string, ref types.RecordRef) (string, error)

	// ListMissing returns IDs of records that have no vector or whose vector
	// was computed from a different fingerprint than the current content or
	// by a model other than model, ordered oldest first. An empty model
	// accepts vectors from any model.
	ListMissing(ctx context.Context, recordType types.RecordType, ownerID, model string, pageSize, offset int) ([]string, error)

	// CountMissing counts the records ListMissing would return.
	CountMissing(ctx context.Context, recordType types.RecordType, ownerID, model string) (int, error)

	// Delete clears the vector of a record.
	Delete(ctx context.Context, ownerID string, ref types.RecordRef) error

	// Invalidate marks every vector of the given type and owner stale so the
	// next backfill recomputes them. Returns the number of vectors affected.
	Invalidate(ctx context.Context, recordType types.RecordType, ownerID string) (int, error)

	// NearestNeighbors returns up to limit records of one type ranked by
	// cosine similarity to query, most similar first. Records whose vector
	// dimension differs from the query, or that were produced by a model
	// other than a non-empty model, are skipped.
	NearestNeighbors(ctx context.Context, recordType types.RecordType, ownerID, model string, query []float32, limit int) ([]ScoredRecord, error)
}

// JobStore persists the embedding job history.
type JobStore interface {
	CreateJob(ctx context.Context, job *types.EmbeddingJob) error

	// UpdateJobStatus moves a job to a new status with an optional error message.
	// Returns ErrNotFound if the job doesn't exist.
	UpdateJobStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) error

	GetJob(ctx context.Context, id string) (*types.EmbeddingJob, error)

	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]types.EmbeddingJob, error)

	// CountJobs counts an owner's jobs per status.
	CountJobs(ctx context.Context, ownerID string) (JobCounts, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	RecordStore
	ActivityStore
	EmbeddingStore
	JobStore

	// Close releases the underlying database.
	Close() error
}

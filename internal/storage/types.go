package storage

import (
	"errors"

	"github.com/scrypster/crmindex/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStale indicates an embedding write was rejected because the record's
	// content fingerprint no longer matches the one the vector was computed from.
	ErrStale = errors.New("embedding source is stale")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T `json:"items"`

	// Total is the total number of items across all pages.
	Total int `json:"total"`

	// Page is the current page number (1-indexed).
	Page int `json:"page"`

	// PageSize is the number of items per page.
	PageSize int `json:"pageSize"`

	// HasMore indicates whether there are more pages available.
	HasMore bool `json:"hasMore"`
}

// ListOptions provides pagination for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 100).
	Limit int
}

// Normalize applies defaults and bounds to the options.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// Offset returns the row offset for the current page.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// ScoredRecord is a nearest-neighbour hit: a record and its cosine similarity
// to the query vector.
type ScoredRecord struct {
	Record     types.Record
	Similarity float64
}

// JobFilter narrows ListJobs. Zero values mean no filter.
type JobFilter struct {
	OwnerID string
	Status  types.JobStatus
	Limit   int
}

// JobCounts is the number of jobs per status.
type JobCounts map[types.JobStatus]int

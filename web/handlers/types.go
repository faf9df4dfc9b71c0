package handlers

import (
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// BackfillRequest is the body of POST /api/embeddings/backfill.
type BackfillRequest struct {
	OwnerID string `json:"ownerId"`
	Force   bool   `json:"force"`

	// RecordType limits the run to one type ("deals", "contacts", "leads").
	RecordType string `json:"recordType,omitempty"`
}

// TypeStatus is the per-type part of StatusResponse.
type TypeStatus struct {
	Missing int `json:"missing"`
}

// StatusResponse is the response of GET /api/embeddings/status.
type StatusResponse struct {
	OwnerID   string                  `json:"ownerId"`
	Model     string                  `json:"model"`
	Types     map[string]TypeStatus   `json:"types"`
	Missing   int                     `json:"missing"`
	QueueSize int                     `json:"queueSize"`
	Jobs      storage.JobCounts       `json:"jobs"`
	States    map[types.SyncState]int `json:"states"`
}

// JobsResponse is the response of GET /api/embeddings/jobs.
type JobsResponse struct {
	Jobs  []types.EmbeddingJob `json:"jobs"`
	Total int                  `json:"total"`
}

// ActivitiesResponse lists the activities of one record.
type ActivitiesResponse struct {
	Activities []types.Activity `json:"activities"`
	Total      int              `json:"total"`
}

// HealthResponse is the response of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	QueueSize int    `json:"queueSize"`
}

// Package mcp exposes crmindex search and embedding maintenance as Model
// Context Protocol tools over stdio.
package mcp

import (
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// SearchCRMArgs contains arguments for the search_crm tool.
type SearchCRMArgs struct {
	Query      string `json:"query"`                 // Free-text query (required)
	SearchType string `json:"search_type,omitempty"` // all, deals, contacts, leads, activities
	MaxResults int    `json:"max_results,omitempty"` // Default 10, max 100
	OwnerID    string `json:"owner_id,omitempty"`    // Falls back to the server's default owner
}

// BackfillArgs contains arguments for the backfill_embeddings tool.
type BackfillArgs struct {
	OwnerID    string `json:"owner_id,omitempty"`
	RecordType string `json:"record_type,omitempty"` // Empty runs every type
	Force      bool   `json:"force,omitempty"`       // Re-embed even fresh records
}

// BackfillResult contains the result of a backfill. Summary holds an
// engine.BackfillSummary for full runs and an engine.BackfillResult when
// RecordType is set.
type BackfillResult struct {
	OwnerID    string      `json:"owner_id"`
	RecordType string      `json:"record_type,omitempty"`
	Summary    interface{} `json:"summary"`
}

// StatusArgs contains arguments for the embedding_status tool.
type StatusArgs struct {
	OwnerID string `json:"owner_id,omitempty"`
}

// StatusResult reports how far an owner's embeddings are from complete.
type StatusResult struct {
	OwnerID   string                  `json:"owner_id"`
	Model     string                  `json:"model"`
	Missing   map[string]int          `json:"missing"`
	Total     int                     `json:"total_missing"`
	QueueSize int                     `json:"queue_size"`
	Jobs      storage.JobCounts       `json:"jobs"`
	States    map[types.SyncState]int `json:"states,omitempty"`
}

package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// EmbeddingEngine is the part of the sync engine the embedding endpoints use.
type EmbeddingEngine interface {
	Backfill(ctx context.Context, recordType types.RecordType, ownerID string, pageSize int) (engine.BackfillResult, error)
	BackfillAll(ctx context.Context, ownerID string, force bool) (engine.BackfillSummary, error)
	GetQueueSize() int
	Model() string
	StateCounts(ownerID string) map[types.SyncState]int
}

// EmbeddingStatusStore exposes the counters behind the status endpoint.
type EmbeddingStatusStore interface {
	CountMissing(ctx context.Context, recordType types.RecordType, ownerID, model string) (int, error)
	Invalidate(ctx context.Context, recordType types.RecordType, ownerID string) (int, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]types.EmbeddingJob, error)
	CountJobs(ctx context.Context, ownerID string) (storage.JobCounts, error)
}

// EmbeddingHandler serves /api/embeddings.
type EmbeddingHandler struct {
	engine EmbeddingEngine
	store  EmbeddingStatusStore
}

// NewEmbeddingHandler creates a new EmbeddingHandler.
func NewEmbeddingHandler(eng EmbeddingEngine, store EmbeddingStatusStore) *EmbeddingHandler {
	return &EmbeddingHandler{engine: eng, store: store}
}

// Backfill handles POST /api/embeddings/backfill.
//
// Without recordType it runs deals, contacts and leads in turn and returns a
// BackfillSummary. With recordType it returns that type's BackfillResult.
// force invalidates the stored vectors first. A second backfill for the same
// owner while one is running gets 409.
func (h *EmbeddingHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = ownerID(r)
	}
	if req.OwnerID == "" {
		respondError(w, http.StatusBadRequest, "ownerId is required", nil)
		return
	}

	ctx := r.Context()
	if req.RecordType == "" {
		summary, err := h.engine.BackfillAll(ctx, req.OwnerID, req.Force)
		if err != nil {
			respondDomainError(w, "backfill failed", err)
			return
		}
		respondJSON(w, http.StatusOK, summary)
		return
	}

	recordType, err := types.ParseRecordType(req.RecordType)
	if err != nil {
		respondDomainError(w, "backfill failed", err)
		return
	}
	if req.Force {
		n, err := h.store.Invalidate(ctx, recordType, req.OwnerID)
		if err != nil {
			respondDomainError(w, "failed to invalidate embeddings", err)
			return
		}
		log.Info().Str("owner_id", req.OwnerID).Str("record_type", string(recordType)).
			Int("invalidated", n).Msg("forced re-embedding")
	}
	result, err := h.engine.Backfill(ctx, recordType, req.OwnerID, 0)
	if err != nil {
		respondDomainError(w, "backfill failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Status handles GET /api/embeddings/status?ownerId=.
func (h *EmbeddingHandler) Status(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "ownerId is required", nil)
		return
	}

	ctx := r.Context()
	resp := StatusResponse{
		OwnerID:   owner,
		Model:     h.engine.Model(),
		Types:     make(map[string]TypeStatus, len(types.AllRecordTypes)),
		QueueSize: h.engine.GetQueueSize(),
		States:    h.engine.StateCounts(owner),
	}
	for _, rt := range types.AllRecordTypes {
		n, err := h.store.CountMissing(ctx, rt, owner, resp.Model)
		if err != nil {
			respondDomainError(w, fmt.Sprintf("failed to count missing %s", rt.Plural()), err)
			return
		}
		resp.Types[rt.Plural()] = TypeStatus{Missing: n}
		resp.Missing += n
	}

	jobs, err := h.store.CountJobs(ctx, owner)
	if err != nil {
		respondDomainError(w, "failed to count jobs", err)
		return
	}
	resp.Jobs = jobs
	respondJSON(w, http.StatusOK, resp)
}

// Jobs handles GET /api/embeddings/jobs?ownerId=&status=&limit=.
func (h *EmbeddingHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	filter := storage.JobFilter{
		OwnerID: ownerID(r),
		Status:  types.JobStatus(r.URL.Query().Get("status")),
		Limit:   parseInt(r.URL.Query().Get("limit"), 50),
	}
	switch filter.Status {
	case "", types.JobPending, types.JobProcessing, types.JobCompleted, types.JobFailed:
	default:
		respondError(w, http.StatusBadRequest, "unknown job status", fmt.Errorf("status %q", filter.Status))
		return
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 50
	}

	jobs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		respondDomainError(w, "failed to list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []types.EmbeddingJob{}
	}
	respondJSON(w, http.StatusOK, JobsResponse{Jobs: jobs, Total: len(jobs)})
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/scrypster/crmindex/internal/engine"
)

// Searcher runs a surface-level semantic search.
type Searcher interface {
	Execute(ctx context.Context, req engine.SearchRequest) (*engine.SearchResponse, error)
}

// SearchHandler handles POST /api/search.
type SearchHandler struct {
	searcher Searcher
	timeout  time.Duration
}

// NewSearchHandler creates a new SearchHandler. A zero timeout leaves the
// request context unbounded.
func NewSearchHandler(searcher Searcher, timeout time.Duration) *SearchHandler {
	return &SearchHandler{searcher: searcher, timeout: timeout}
}

// Search handles POST /api/search.
//
// Body: {"query", "searchType", "maxResults", "ownerId"}. searchType is one of
// all, deals, contacts, leads or activities; maxResults defaults to 10 and is
// capped at 100. Provider failures surface as 502.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req engine.SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = ownerID(r)
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	resp, err := h.searcher.Execute(ctx, req)
	if err != nil {
		respondDomainError(w, "search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

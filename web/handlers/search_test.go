package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/pkg/types"
	"github.com/scrypster/crmindex/web/handlers"
)

type fakeSearcher struct {
	got      engine.SearchRequest
	deadline bool
	resp     *engine.SearchResponse
	err      error
}

func (f *fakeSearcher) Execute(ctx context.Context, req engine.SearchRequest) (*engine.SearchResponse, error) {
	f.got = req
	_, f.deadline = ctx.Deadline()
	return f.resp, f.err
}

func searchMux(s handlers.Searcher) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/search", handlers.NewSearchHandler(s, time.Second).Search)
	return mux
}

func TestSearchHandler_Success(t *testing.T) {
	value := 50000.0
	fs := &fakeSearcher{resp: &engine.SearchResponse{
		Results: []types.SearchResult{{
			RecordType: types.RecordTypeDeal,
			ID:         "deal-42",
			Name:       "Enterprise Software License",
			Value:      &value,
			Similarity: 0.91,
		}},
		TotalResults:      1,
		AverageSimilarity: 0.91,
	}}

	w := do(t, searchMux(fs), http.MethodPost, "/api/search", map[string]any{
		"query":      "enterprise software",
		"searchType": "deals",
		"maxResults": 5,
		"ownerId":    "owner-9",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[engine.SearchResponse](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "deal-42", resp.Results[0].ID)
	assert.InDelta(t, 0.91, resp.AverageSimilarity, 1e-9)

	assert.Equal(t, "owner-9", fs.got.OwnerID, "body ownerId wins over the header")
	assert.Equal(t, "deals", fs.got.SearchType)
	assert.Equal(t, 5, fs.got.MaxResults)
	assert.True(t, fs.deadline, "search runs under the configured timeout")
}

func TestSearchHandler_OwnerFromHeader(t *testing.T) {
	fs := &fakeSearcher{resp: &engine.SearchResponse{Results: []types.SearchResult{}}}
	w := do(t, searchMux(fs), http.MethodPost, "/api/search", map[string]any{"query": "renewal"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testOwner, fs.got.OwnerID)
}

func TestSearchHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("%w: query is required", types.ErrInvalidInput), http.StatusBadRequest},
		{"provider down", &types.ProviderError{Provider: "openai", StatusCode: 503, Message: "overloaded"}, http.StatusBadGateway},
		{"provider timeout", &types.ProviderError{Provider: "ollama", Err: context.DeadlineExceeded}, http.StatusBadGateway},
		{"store failure", errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, searchMux(&fakeSearcher{err: tt.err}), http.MethodPost, "/api/search",
				map[string]any{"query": "x", "ownerId": "o"})
			assert.Equal(t, tt.want, w.Code)
			errResp := decode[handlers.ErrorResponse](t, w)
			assert.Equal(t, "search failed", errResp.Error)
		})
	}
}

func TestSearchHandler_ProviderDetails(t *testing.T) {
	fs := &fakeSearcher{err: &types.ProviderError{Provider: "openai", StatusCode: 429, Message: "slow down"}}
	w := do(t, searchMux(fs), http.MethodPost, "/api/search", map[string]any{"query": "x"})
	require.Equal(t, http.StatusBadGateway, w.Code)

	errResp := decode[handlers.ErrorResponse](t, w)
	assert.Equal(t, "openai", errResp.Details["provider"])
	assert.EqualValues(t, 429, errResp.Details["providerStatus"])
}

func TestSearchHandler_RejectsBadBody(t *testing.T) {
	fs := &fakeSearcher{}
	w := do(t, searchMux(fs), http.MethodPost, "/api/search", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, searchMux(fs), http.MethodGet, "/api/search", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

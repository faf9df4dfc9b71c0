package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/llm"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

const (
	// DefaultMaxResults is used when a request does not set maxResults.
	DefaultMaxResults = 10

	// MaxResultsLimit caps maxResults.
	MaxResultsLimit = 100

	// SearchTypeAll searches deals, contacts and leads.
	SearchTypeAll = "all"

	// SearchTypeActivities is accepted but matches nothing: activities are
	// only searchable through their parent record.
	SearchTypeActivities = "activities"
)

// SearchRequest is the surface-level search request.
type SearchRequest struct {
	Query      string `json:"query"`
	SearchType string `json:"searchType"`
	MaxResults int    `json:"maxResults"`
	OwnerID    string `json:"ownerId"`
}

// SearchResponse is the surface-level search response.
type SearchResponse struct {
	Results           []types.SearchResult `json:"results"`
	TotalResults      int                  `json:"totalResults"`
	SearchTimeMs      int64                `json:"searchTimeMs"`
	AverageSimilarity float64              `json:"averageSimilarity"`
}

// SearchEngine ranks records by semantic similarity to a free-text query.
type SearchEngine struct {
	store    storage.EmbeddingStore
	embedder llm.EmbeddingGenerator
}

// NewSearchEngine creates a search engine. The embedder must be the same
// model the stored vectors were computed with.
func NewSearchEngine(store storage.EmbeddingStore, embedder llm.EmbeddingGenerator) *SearchEngine {
	return &SearchEngine{store: store, embedder: embedder}
}

// ParseSearchType resolves a searchType value to the record types it covers.
// "activities" resolves to no types.
func ParseSearchType(s string) ([]types.RecordType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", SearchTypeAll:
		return types.AllRecordTypes, nil
	case SearchTypeActivities, "activity":
		return []types.RecordType{}, nil
	}
	t, err := types.ParseRecordType(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return nil, fmt.Errorf("%w: unknown search type %q", types.ErrInvalidInput, s)
	}
	return []types.RecordType{t}, nil
}

// Execute validates a surface request, runs the search and wraps the results
// with timing and summary statistics.
func (s *SearchEngine) Execute(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	recordTypes, err := ParseSearchType(req.SearchType)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := s.Search(ctx, req.Query, recordTypes, req.MaxResults, req.OwnerID)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		SearchTimeMs: time.Since(start).Milliseconds(),
	}
	if len(results) > 0 {
		var sum float64
		for _, r := range results {
			sum += r.Similarity
		}
		resp.AverageSimilarity = sum / float64(len(results))
	}
	return resp, nil
}

// Search embeds query and returns at most maxResults records across
// recordTypes, most similar first. Ties are ordered by the position of the
// record type in recordTypes, then newest first, then by ID.
//
// Provider failures are returned to the caller; there is no fallback.
// A record type without embeddings contributes nothing.
func (s *SearchEngine) Search(ctx context.Context, query string, recordTypes []types.RecordType, maxResults int, ownerID string) ([]types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrInvalidInput)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", types.ErrInvalidInput)
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	rank := make(map[types.RecordType]int, len(recordTypes))
	var wanted []types.RecordType
	for _, t := range recordTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown record type %q", types.ErrInvalidInput, t)
		}
		if _, dup := rank[t]; dup {
			continue
		}
		rank[t] = len(wanted)
		wanted = append(wanted, t)
	}
	if len(wanted) == 0 {
		return []types.SearchResult{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []types.SearchResult
	for _, t := range wanted {
		hits, err := s.store.NearestNeighbors(ctx, t, ownerID, s.embedder.GetModel(), vec, maxResults)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", t.Plural(), err)
		}
		for i := range hits {
			results = append(results, types.NewSearchResult(&hits[i].Record, clamp01(hits[i].Similarity)))
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if rank[a.RecordType] != rank[b.RecordType] {
			return rank[a.RecordType] < rank[b.RecordType]
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if results == nil {
		results = []types.SearchResult{}
	}

	log.Debug().Str("owner_id", ownerID).Int("types", len(wanted)).Int("results", len(results)).Msg("search completed")
	return results, nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

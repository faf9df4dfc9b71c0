package types

import "time"

// SearchResult is one ranked hit returned by a semantic search.
// It is built per query and never persisted.
type SearchResult struct {
	RecordType RecordType `json:"recordType"`
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Company    string     `json:"company,omitempty"`
	Status     string     `json:"status,omitempty"`
	Value      *float64   `json:"value,omitempty"`
	Email      string     `json:"email,omitempty"`
	Similarity float64    `json:"similarity"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NewSearchResult projects a record's display fields into a result.
func NewSearchResult(r *Record, similarity float64) SearchResult {
	return SearchResult{
		RecordType: r.Type,
		ID:         r.ID,
		Name:       r.Name,
		Company:    r.Company,
		Status:     r.Status,
		Value:      r.Value,
		Email:      r.Email,
		Similarity: similarity,
		CreatedAt:  r.CreatedAt,
	}
}

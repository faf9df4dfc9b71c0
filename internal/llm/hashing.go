package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/scrypster/crmindex/pkg/types"
)

// DefaultHashDimensions is the vector size of the hashing embedder.
const DefaultHashDimensions = 256

// HashEmbedder is a deterministic, offline embedder based on feature hashing.
// Each lower-cased token increments one bucket; the result is L2-normalised,
// so texts sharing vocabulary have positive cosine similarity. It needs no
// network and is used for local development and tests.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder. dims <= 0 uses DefaultHashDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed hashes the tokens of text into a normalised vector.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.ProviderError{Provider: "hash", Err: err, Message: err.Error()}
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: text to embed has no tokens", types.ErrInvalidInput)
	}

	vec := make([]float32, h.dims)
	for _, tok := range tokens {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(tok))
		vec[hasher.Sum32()%uint32(h.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// GetModel identifies the hashing scheme and dimension.
func (h *HashEmbedder) GetModel() string {
	return fmt.Sprintf("hash-%d", h.dims)
}

var _ EmbeddingGenerator = (*HashEmbedder)(nil)

// Package llm provides embedding-generation clients for the providers the
// sync pipeline and search engine can talk to.
package llm

import "context"

// EmbeddingGenerator turns one text into one vector.
//
// Implementations fail with types.ErrInvalidInput on empty text (no provider
// call is made) and with a *types.ProviderError on transport, auth,
// rate-limit, timeout or malformed-response failures. They never retry;
// retry policy belongs to the caller.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/scrypster/crmindex/pkg/types"
)

// GeminiConfig holds configuration for the Gemini embedding client.
type GeminiConfig struct {
	APIKey  string
	Model   string        // default: gemini-embedding-001
	Timeout time.Duration // default: 30s

	RequestsPerSecond float64
	Burst             int

	// ClientOptions are appended after the API key (endpoint overrides in tests).
	ClientOptions []option.ClientOption
}

// GeminiClient implements EmbeddingGenerator on top of the Gemini API.
type GeminiClient struct {
	*guard
	client *genai.Client
	model  string
}

// NewGeminiClient dials the Gemini API. The returned client must be closed.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", types.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.ClientOptions...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		guard:  newGuard("gemini", cfg.Timeout, cfg.RequestsPerSecond, cfg.Burst),
		client: client,
		model:  cfg.Model,
	}, nil
}

// Embed generates an embedding for the given text.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.guard.embed(ctx, text, func(ctx context.Context) ([]float32, error) {
		res, err := c.client.EmbeddingModel(c.model).EmbedContent(ctx, genai.Text(text))
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				return nil, &types.ProviderError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
			}
			return nil, err
		}
		if res == nil || res.Embedding == nil {
			return nil, fmt.Errorf("gemini returned empty embedding")
		}
		return res.Embedding.Values, nil
	})
}

// GetModel returns the configured model name.
func (c *GeminiClient) GetModel() string {
	return c.model
}

// Close releases the underlying API client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

var _ EmbeddingGenerator = (*GeminiClient)(nil)

package llm

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string // openai, ollama, gemini, hash
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration

	RequestsPerSecond float64
	Burst             int
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for cfg.Provider.
// The returned generator is meant to be built once at startup and shared.
func NewEmbeddingGenerator(ctx context.Context, cfg Config) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			Dimensions:        cfg.Dimensions,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}), nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		})
	case "hash", "":
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}

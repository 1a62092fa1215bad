// Package embedding maps text to fixed-length vectors through an external
// model provider. Ingestion and search must share one Embedder so stored and
// query vectors come from the same model.
package embedding

import (
	"context"
	"fmt"

	"github.com/sjsunlp/leetcode-assistant/internal/config"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
)

type Embedder interface {
	// Embed returns the vector for text. A missing credential is reported as
	// an apierr configuration error, upstream failures as provider errors.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model names the embedding model, for logs.
	Model() string
	Close() error
}

// New picks the provider named in cfg.
func New(ctx context.Context, log *logger.Logger, cfg *config.Config) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderOpenAI:
		return NewOpenAI(log, OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIEmbedModel,
			Timeout: cfg.ProviderTimeout,
		})
	case config.EmbeddingProviderGemini:
		return NewGemini(ctx, log, cfg.GeminiAPIKey, cfg.GeminiEmbedModel)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
)

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

type OpenAIConfig struct {
	APIKey string
	// BaseURL is the API host, with or without the /v1 suffix.
	BaseURL string
	Model   string
	Timeout time.Duration
}

type openAIEmbedder struct {
	log      *logger.Logger
	model    string
	embedder embeddings.Embedder
}

// NewOpenAI builds an OpenAI embedder. Without an API key the embedder is
// still returned, but every Embed call fails with a configuration error.
func NewOpenAI(log *logger.Logger, cfg OpenAIConfig) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	e := &openAIEmbedder{log: log.With("service", "OpenAIEmbedder"), model: model}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return e, nil
	}

	client, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithBaseURL(openAIBaseURL(cfg.BaseURL)),
		openai.WithEmbeddingModel(model),
		openai.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI embedder: %w", err)
	}
	e.embedder = embedder
	return e, nil
}

// openAIBaseURL returns the versioned API root the client posts under.
func openAIBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

func (e *openAIEmbedder) Model() string { return e.model }

func (e *openAIEmbedder) Close() error { return nil }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, apierr.Configuration("OPENAI_API_KEY not configured")
	}
	input := strings.TrimSpace(text)
	if input == "" {
		input = " "
	}

	vecs, err := e.embedder.EmbedDocuments(ctx, []string{input})
	if err != nil {
		e.log.Warn("OpenAI embedding request failed", "model", e.model, "error", err)
		return nil, apierr.Provider("openai embedding request failed", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, apierr.Provider("openai embedding response was empty", nil)
	}
	return vecs[0], nil
}

package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
)

const defaultGeminiEmbeddingModel = "text-embedding-004"

type geminiEmbedder struct {
	log    *logger.Logger
	client *genai.Client
	model  string
}

// NewGemini builds a Gemini embedder. Without an API key the embedder is
// still returned, but every Embed call fails with a configuration error.
func NewGemini(ctx context.Context, log *logger.Logger, apiKey, model string) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if model == "" {
		model = defaultGeminiEmbeddingModel
	}
	e := &geminiEmbedder{log: log.With("service", "GeminiEmbedder"), model: model}
	if apiKey == "" {
		return e, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	e.client = client
	return e, nil
}

func (e *geminiEmbedder) Model() string { return e.model }

func (e *geminiEmbedder) Close() error {
	if e.client == nil {
		return nil
	}
	if err := e.client.Close(); err != nil {
		e.log.Warn("Error closing GenAI client", "error", err)
		return err
	}
	return nil
}

func (e *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.client == nil {
		return nil, apierr.Configuration("GEMINI_API_KEY not configured")
	}
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, apierr.Provider("gemini embedding request failed", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, apierr.Provider("no embedding data received from gemini", nil)
	}
	return res.Embedding.Values, nil
}

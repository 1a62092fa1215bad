// Package vectorindex stores message vectors and answers nearest-neighbour
// queries restricted by metadata equality filters.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/sjsunlp/leetcode-assistant/internal/config"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
)

type Match struct {
	ID       string
	Score    float64 // higher is more similar
	Metadata map[string]any
}

type Index interface {
	Upsert(ctx context.Context, id string, values []float32, metadata map[string]any) error
	// Query returns at most topK matches ordered by descending score. Every
	// filter entry must equal the stored metadata value for a vector to match.
	Query(ctx context.Context, values []float32, topK int, filter map[string]any, includeMetadata bool) ([]Match, error)
}

// New picks the backend named in cfg.
func New(log *logger.Logger, cfg *config.Config) (Index, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPinecone:
		idx, err := NewPineconeIndex(log, PineconeConfig{
			APIKey:    cfg.PineconeAPIKey,
			IndexName: cfg.PineconeIndexName,
			IndexHost: cfg.PineconeIndexHost,
			Namespace: cfg.PineconeNamespace,
			Cloud:     cfg.PineconeCloud,
			Region:    cfg.PineconeEnvironment,
			Timeout:   cfg.ProviderTimeout,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case config.VectorBackendMemory:
		log.Warn("Using in-process vector index; vectors are lost on restart")
		return NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// Package mock provides a deterministic Embedder for tests.
package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

const Dimension = 256

// Embedder maps each lowercase word to a fixed bucket, so texts that share
// words score higher under cosine similarity. EmbedFunc overrides this.
type Embedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	mu        sync.Mutex
	callCount int
}

func NewEmbedder() *Embedder {
	return &Embedder{}
}

func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.EmbedFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return BagOfWords(text), nil
}

func (m *Embedder) Model() string { return "mock-bag-of-words" }

func (m *Embedder) Close() error { return nil }

func (m *Embedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// BagOfWords counts words into Dimension FNV buckets. Text without words
// gets a constant vector so it is never the zero vector.
func BagOfWords(text string) []float32 {
	vector := make([]float32, Dimension)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		vector[0] = 1
		return vector
	}
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,;:!?\"'()")))
		vector[h.Sum32()%Dimension]++
	}
	return vector
}

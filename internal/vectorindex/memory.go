package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process cosine index for local development and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]memoryEntry
}

type memoryEntry struct {
	values   []float32
	metadata map[string]any
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: map[string]memoryEntry{}}
}

func (m *MemoryIndex) Upsert(ctx context.Context, id string, values []float32, metadata map[string]any) error {
	if id == "" {
		return fmt.Errorf("vector id required")
	}
	if len(values) == 0 {
		return fmt.Errorf("vector values required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim != 0 && m.dim != len(values) {
		return fmt.Errorf("dimension mismatch: index holds %d, got %d", m.dim, len(values))
	}
	m.dim = len(values)
	m.entries[id] = memoryEntry{
		values:   append([]float32(nil), values...),
		metadata: copyMetadata(metadata),
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, values []float32, topK int, filter map[string]any, includeMetadata bool) ([]Match, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	if topK <= 0 {
		topK = 10
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.entries))
	for id, e := range m.entries {
		if !matchesFilter(e.metadata, filter) {
			continue
		}
		score, err := CosineSimilarity(values, e.values)
		if err != nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("vector %s: %w", id, err)
		}
		match := Match{ID: id, Score: score}
		if includeMetadata {
			match.Metadata = copyMetadata(e.metadata)
		}
		matches = append(matches, match)
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len reports how many vectors are stored.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// matchesFilter supports plain equality and the {"$eq": v} form.
func matchesFilter(metadata, filter map[string]any) bool {
	for key, want := range filter {
		if op, ok := want.(map[string]any); ok {
			eq, hasEq := op["$eq"]
			if !hasEq {
				return false
			}
			want = eq
		}
		got, ok := metadata[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func copyMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// A zero-length vector on either side scores 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same dimension (%d != %d)", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

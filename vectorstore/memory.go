package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"eduassist/chunking"
	"eduassist/embedding"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process vector store using brute-force cosine
// similarity. It is the default store for local runs and tests; everything is
// lost when the process exits.
type MemoryStore struct {
	embedder embedding.Provider

	mu      sync.RWMutex
	entries []memoryEntry
}

type memoryEntry struct {
	chunk  chunking.Chunk
	vector []float32
	id     string
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(embedder embedding.Provider) *MemoryStore {
	return &MemoryStore{embedder: embedder}
}

// Name implements Store.
func (m *MemoryStore) Name() string {
	return TypeMemory
}

// Add implements Store.
func (m *MemoryStore) Add(ctx context.Context, chunks []chunking.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("memory store: embed chunks: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range chunks {
		m.entries = append(m.entries, memoryEntry{
			chunk:  c,
			vector: vectors[i],
			id:     pointID(c.ID, m.embedder.ModelID()),
		})
	}
	return nil
}

// Search implements Store.
func (m *MemoryStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory store: embed query: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SearchResult, 0, len(m.entries))
	for _, e := range m.entries {
		results = append(results, SearchResult{
			Chunk: e.chunk,
			Score: cosineSimilarity(queryVec, e.vector),
			ID:    e.id,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// AsRetriever implements Store.
func (m *MemoryStore) AsRetriever(k int) *Retriever {
	return NewRetriever(m, k)
}

// Count implements Store.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 for
// mismatched or zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

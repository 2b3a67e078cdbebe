package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduassist/chunking"
)

// vocabEmbedder maps known texts to fixed vectors, so similarity ordering in
// tests is fully controlled.
type vocabEmbedder struct {
	vectors map[string][]float32
}

func (e vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (vocabEmbedder) Dimensions() int { return 3 }

func (vocabEmbedder) ModelID() string { return "vocab-test" }

func chunk(id, content string) chunking.Chunk {
	return chunking.Chunk{ID: id, Content: content, Source: "test.txt", Title: "Test"}
}

func newTestStore() *MemoryStore {
	return NewMemoryStore(vocabEmbedder{vectors: map[string][]float32{
		"reading goals":    {1, 0, 0},
		"math supports":    {0, 1, 0},
		"reading progress": {0.9, 0.1, 0},
	}})
}

func TestMemoryStoreSearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	err := store.Add(ctx, []chunking.Chunk{
		chunk("c1", "reading goals"),
		chunk("c2", "math supports"),
		chunk("c3", "reading progress"),
	})
	require.NoError(t, err)

	results, err := store.Search(ctx, "reading goals", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "reading goals", results[0].Chunk.Content)
	assert.Equal(t, "reading progress", results[1].Chunk.Content)
	assert.Equal(t, "math supports", results[2].Chunk.Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Greater(t, results[1].Score, results[2].Score)
}

func TestMemoryStoreSearchHonorsLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	require.NoError(t, store.Add(ctx, []chunking.Chunk{
		chunk("c1", "reading goals"),
		chunk("c2", "math supports"),
		chunk("c3", "reading progress"),
	}))

	results, err := store.Search(ctx, "reading goals", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMemoryStoreCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.Add(ctx, []chunking.Chunk{chunk("c1", "reading goals")}))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStoreAddEmptyIsNoop(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Add(context.Background(), nil))
}

func TestMemoryStorePointIDsAreDeterministic(t *testing.T) {
	ctx := context.Background()

	first := newTestStore()
	require.NoError(t, first.Add(ctx, []chunking.Chunk{chunk("c1", "reading goals")}))
	second := newTestStore()
	require.NoError(t, second.Add(ctx, []chunking.Chunk{chunk("c1", "reading goals")}))

	a, err := first.Search(ctx, "reading goals", 1)
	require.NoError(t, err)
	b, err := second.Search(ctx, "reading goals", 1)
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
	assert.NotEmpty(t, a[0].ID)
}

func TestRetrieverUsesConfiguredK(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	require.NoError(t, store.Add(ctx, []chunking.Chunk{
		chunk("c1", "reading goals"),
		chunk("c2", "math supports"),
		chunk("c3", "reading progress"),
	}))

	retriever := store.AsRetriever(2)
	assert.Equal(t, 2, retriever.TopK())

	results, err := retriever.Retrieve(ctx, "reading goals")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieverDefaultsKToFive(t *testing.T) {
	store := newTestStore()

	assert.Equal(t, 5, store.AsRetriever(0).TopK())
	assert.Equal(t, 5, store.AsRetriever(-3).TopK())
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	store, err := New(context.Background(), DefaultConfig(), vocabEmbedder{})
	require.NoError(t, err)
	assert.Equal(t, TypeMemory, store.Name())
}

func TestFactoryRejectsNilEmbedder(t *testing.T) {
	_, err := New(context.Background(), DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = "papyrus"

	_, err := New(context.Background(), cfg, vocabEmbedder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store type")
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

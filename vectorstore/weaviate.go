package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"eduassist/chunking"
	"eduassist/embedding"
)

var _ Store = (*WeaviateStore)(nil)

// WeaviateConfig holds connection settings for Weaviate.
type WeaviateConfig struct {
	Host   string // host:port, no scheme
	Scheme string
	APIKey string // optional; anonymous access when empty
}

// DefaultWeaviateConfig returns defaults for a local Weaviate instance.
func DefaultWeaviateConfig() WeaviateConfig {
	return WeaviateConfig{
		Host:   "localhost:8080",
		Scheme: "http",
	}
}

// WeaviateStore implements Store over the Weaviate GraphQL API. Vectorization
// happens client-side through the embeddings provider; the class is created
// with vectorizer "none".
type WeaviateStore struct {
	client   *weaviate.Client
	embedder embedding.Provider
	class    string
}

// NewWeaviateStore connects to Weaviate and ensures the class exists.
func NewWeaviateStore(ctx context.Context, config WeaviateConfig, collection string, embedder embedding.Provider) (*WeaviateStore, error) {
	clientConfig := weaviate.Config{
		Host:   config.Host,
		Scheme: config.Scheme,
	}
	if config.APIKey != "" {
		clientConfig.AuthConfig = auth.ApiKey{Value: config.APIKey}
	}

	client, err := weaviate.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	store := &WeaviateStore{
		client:   client,
		embedder: embedder,
		class:    weaviateClassName(collection),
	}

	if err := store.ensureClass(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// weaviateClassName converts a collection name into a valid Weaviate class
// name (leading capital, no underscores).
func weaviateClassName(collection string) string {
	parts := strings.Split(collection, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	if b.Len() == 0 {
		return "EducationalDocuments"
	}
	return b.String()
}

// ensureClass creates the class schema if it does not already exist.
func (w *WeaviateStore) ensureClass(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(w.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: check class: %w", err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      w.class,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "chunkId", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "title", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "wordCount", DataType: []string{"int"}},
			{Name: "charCount", DataType: []string{"int"}},
			{Name: "modelUsed", DataType: []string{"text"}},
		},
	}

	err = w.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("weaviate: create class: %w", err)
	}
	return nil
}

// Name implements Store.
func (w *WeaviateStore) Name() string {
	return TypeWeaviate
}

// Add implements Store.
func (w *WeaviateStore) Add(ctx context.Context, chunks []chunking.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("weaviate: embed chunks: %w", err)
	}

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class: w.class,
			ID:    strfmt.UUID(pointID(chunk.ID, w.embedder.ModelID())),
			Properties: map[string]any{
				"chunkId":    chunk.ID,
				"source":     chunk.Source,
				"title":      chunk.Title,
				"content":    chunk.Content,
				"chunkIndex": chunk.ChunkIndex,
				"wordCount":  chunk.WordCount,
				"charCount":  chunk.CharCount,
				"modelUsed":  w.embedder.ModelID(),
			},
			Vector: models.C11yVector(vectors[i]),
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: batch insert: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate: batch insert object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}

	return nil
}

// Search implements Store.
func (w *WeaviateStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	queryVec, err := w.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("weaviate: embed query: %w", err)
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(queryVec)

	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "source"},
		{Name: "title"},
		{Name: "content"},
		{Name: "chunkIndex"},
		{Name: "wordCount"},
		{Name: "charCount"},
		{Name: "modelUsed"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithNearVector(nearVector).
		WithFields(fields...).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate: search failed: %s", result.Errors[0].Message)
	}

	var results []SearchResult
	if data, ok := result.Data["Get"].(map[string]any); ok {
		if items, ok := data[w.class].([]any); ok {
			for _, item := range items {
				if itemMap, ok := item.(map[string]any); ok {
					results = append(results, w.parseResult(itemMap))
				}
			}
		}
	}

	return results, nil
}

// parseResult converts one GraphQL result object into a SearchResult.
func (w *WeaviateStore) parseResult(item map[string]any) SearchResult {
	getString := func(key string) string {
		if v, ok := item[key].(string); ok {
			return v
		}
		return ""
	}
	getInt := func(key string) int {
		if v, ok := item[key].(float64); ok {
			return int(v)
		}
		return 0
	}

	result := SearchResult{
		Chunk: chunking.Chunk{
			ID:         getString("chunkId"),
			Source:     getString("source"),
			Title:      getString("title"),
			Content:    getString("content"),
			ChunkIndex: getInt("chunkIndex"),
			WordCount:  getInt("wordCount"),
			CharCount:  getInt("charCount"),
			Metadata: map[string]any{
				"model_used": getString("modelUsed"),
			},
		},
	}

	if additional, ok := item["_additional"].(map[string]any); ok {
		if id, ok := additional["id"].(string); ok {
			result.ID = id
		}
		if distance, ok := additional["distance"].(float64); ok {
			// Cosine distance in [0,2]; similarity mirrors the other stores.
			result.Score = float32(1 - distance)
		}
	}

	return result
}

// AsRetriever implements Store.
func (w *WeaviateStore) AsRetriever(k int) *Retriever {
	return NewRetriever(w, k)
}

// Count implements Store.
func (w *WeaviateStore) Count(ctx context.Context) (int, error) {
	result, err := w.client.GraphQL().Aggregate().
		WithClassName(w.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate: aggregate failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("weaviate: aggregate failed: %s", result.Errors[0].Message)
	}

	if data, ok := result.Data["Aggregate"].(map[string]any); ok {
		if items, ok := data[w.class].([]any); ok && len(items) > 0 {
			if itemMap, ok := items[0].(map[string]any); ok {
				if meta, ok := itemMap["meta"].(map[string]any); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

// Close implements Store.
func (w *WeaviateStore) Close() error {
	return nil
}

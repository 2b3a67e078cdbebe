// Package vectorstore provides the vector database layer behind the RAG
// pipeline: a Store interface, a factory keyed by store type, and a Retriever
// that binds a store to a retrieval fan-out.
//
// Supported store types: "memory" (in-process), "qdrant", "weaviate",
// "pgvector".
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"eduassist/chunking"
	"eduassist/embedding"
)

// Store type tags accepted by New.
const (
	TypeMemory   = "memory"
	TypeQdrant   = "qdrant"
	TypeWeaviate = "weaviate"
	TypePgvector = "pgvector"
)

// SearchResult is a single hit from a similarity search.
type SearchResult struct {
	Chunk chunking.Chunk `json:"chunk"`
	Score float32        `json:"score"`
	ID    string         `json:"id"`
}

// Store is a vector database holding embedded chunks. A store owns its
// embeddings provider: Add embeds chunk content before indexing and Search
// embeds the query before the similarity lookup.
type Store interface {
	// Name returns the store type tag.
	Name() string

	// Add embeds and indexes the given chunks.
	Add(ctx context.Context, chunks []chunking.Chunk) error

	// Search returns up to limit chunks most similar to the query, most
	// similar first.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// AsRetriever binds the store to a retrieval fan-out k.
	AsRetriever(k int) *Retriever

	// Count returns the number of indexed chunks.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying connection, if any.
	Close() error
}

// Config holds configuration for the store factory.
type Config struct {
	Type           string // One of the Type* constants
	CollectionName string

	Qdrant   QdrantConfig
	Weaviate WeaviateConfig
	Postgres PostgresConfig
}

// DefaultConfig returns factory defaults: an in-process store, which needs no
// external service and mirrors local-first development.
func DefaultConfig() Config {
	return Config{
		Type:           TypeMemory,
		CollectionName: "educational_documents",
		Qdrant:         DefaultQdrantConfig(),
		Weaviate:       DefaultWeaviateConfig(),
		Postgres:       DefaultPostgresConfig(),
	}
}

// New constructs and initializes a store of the configured type.
func New(ctx context.Context, cfg Config, embedder embedding.Provider) (Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("vectorstore: embedder must not be nil")
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = DefaultConfig().CollectionName
	}

	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(embedder), nil
	case TypeQdrant:
		return NewQdrantStore(ctx, cfg.Qdrant, cfg.CollectionName, embedder)
	case TypeWeaviate:
		return NewWeaviateStore(ctx, cfg.Weaviate, cfg.CollectionName, embedder)
	case TypePgvector:
		return NewPostgresStore(ctx, cfg.Postgres, cfg.CollectionName, embedder)
	default:
		return nil, fmt.Errorf("vectorstore: unknown store type %q", cfg.Type)
	}
}

// Retriever returns the top-k chunks relevant to a query from its store.
type Retriever struct {
	store Store
	topK  int
}

// NewRetriever binds a store to a fan-out k. A non-positive k falls back to 5.
func NewRetriever(store Store, k int) *Retriever {
	if k <= 0 {
		k = 5
	}
	return &Retriever{store: store, topK: k}
}

// Retrieve returns the top-k results for the query.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]SearchResult, error) {
	return r.store.Search(ctx, query, r.topK)
}

// TopK returns the configured fan-out.
func (r *Retriever) TopK() int {
	return r.topK
}

// Store returns the underlying store.
func (r *Retriever) Store() Store {
	return r.store
}

// Fixed namespace so the same chunk and model always map to the same point ID.
var idNamespace = uuid.MustParse("5955ff11-0749-4f38-9cf9-60495cbfadf6")

// pointID derives a deterministic UUID for a chunk embedded with a model.
func pointID(chunkID, model string) string {
	return uuid.NewSHA1(idNamespace, []byte(chunkID+"_"+model)).String()
}

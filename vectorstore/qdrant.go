package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"eduassist/chunking"
	"eduassist/embedding"
)

var _ Store = (*QdrantStore)(nil)

// QdrantConfig holds connection and index settings for Qdrant.
type QdrantConfig struct {
	Host     string
	Port     int
	Distance string // "Cosine", "Euclidean", or "Dot"
}

// DefaultQdrantConfig returns defaults for a local Qdrant instance.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:     "localhost",
		Port:     6334, // Default Qdrant gRPC port
		Distance: "Cosine",
	}
}

// QdrantStore implements Store over the Qdrant gRPC API.
type QdrantStore struct {
	collectionsClient qdrant.CollectionsClient
	pointsClient      qdrant.PointsClient
	conn              *grpc.ClientConn
	embedder          embedding.Provider
	collection        string
	config            QdrantConfig
}

// NewQdrantStore connects to Qdrant and ensures the collection exists.
func NewQdrantStore(ctx context.Context, config QdrantConfig, collection string, embedder embedding.Provider) (*QdrantStore, error) {
	conn, err := grpc.NewClient(
		fmt.Sprintf("%s:%d", config.Host, config.Port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	store := &QdrantStore{
		collectionsClient: qdrant.NewCollectionsClient(conn),
		pointsClient:      qdrant.NewPointsClient(conn),
		conn:              conn,
		embedder:          embedder,
		collection:        collection,
		config:            config,
	}

	if err := store.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection with an HNSW index if it does not
// already exist. The vector size comes from the embeddings provider.
func (q *QdrantStore) ensureCollection(ctx context.Context) error {
	collections, err := q.collectionsClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, collection := range collections.Collections {
		if collection.Name == q.collection {
			return nil
		}
	}

	slog.Info("creating qdrant collection", "collection", q.collection, "vector_size", q.embedder.Dimensions())

	var distance qdrant.Distance
	switch q.config.Distance {
	case "Euclidean":
		distance = qdrant.Distance_Euclid
	case "Dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}

	_, err = q.collectionsClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.embedder.Dimensions()),
					Distance: distance,
				},
			},
		},
		HnswConfig: &qdrant.HnswConfigDiff{
			M:                 uint64Ptr(16),
			EfConstruct:       uint64Ptr(100),
			FullScanThreshold: uint64Ptr(10000), // Full scan is faster for small collections
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// Name implements Store.
func (q *QdrantStore) Name() string {
	return TypeQdrant
}

// Add implements Store. Chunks are embedded, converted to points with
// deterministic IDs, and upserted in batches.
func (q *QdrantStore) Add(ctx context.Context, chunks []chunking.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := q.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("qdrant: embed chunks: %w", err)
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]*qdrant.Value{
			"source":      qdrant.NewValueString(chunk.Source),
			"title":       qdrant.NewValueString(chunk.Title),
			"content":     qdrant.NewValueString(chunk.Content),
			"chunk_index": qdrant.NewValueInt(int64(chunk.ChunkIndex)),
			"word_count":  qdrant.NewValueInt(int64(chunk.WordCount)),
			"char_count":  qdrant.NewValueInt(int64(chunk.CharCount)),
			"chunk_id":    qdrant.NewValueString(chunk.ID),
			"model_used":  qdrant.NewValueString(q.embedder.ModelID()),
			"indexed_at":  qdrant.NewValueString(time.Now().Format(time.RFC3339)),
		}

		points[i] = &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{
					Uuid: pointID(chunk.ID, q.embedder.ModelID()),
				},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: vectors[i]},
				},
			},
			Payload: payload,
		}
	}

	batchSize := 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		_, err := q.pointsClient.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points[i:end],
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// Search implements Store.
func (q *QdrantStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	queryVec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: embed query: %w", err)
	}

	searchResult, err := q.pointsClient.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         queryVec,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
		Params: &qdrant.SearchParams{
			HnswEf: uint64Ptr(128),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	results := make([]SearchResult, len(searchResult.Result))
	for i, point := range searchResult.Result {
		results[i] = SearchResult{
			Chunk: chunkFromPayload(point.Payload),
			Score: point.Score,
			ID:    point.Id.GetUuid(),
		}
	}

	return results, nil
}

// chunkFromPayload reconstructs a Chunk from a Qdrant point payload.
func chunkFromPayload(payload map[string]*qdrant.Value) chunking.Chunk {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	getInt := func(key string) int {
		if v, ok := payload[key]; ok {
			return int(v.GetIntegerValue())
		}
		return 0
	}

	return chunking.Chunk{
		ID:         get("chunk_id"),
		Source:     get("source"),
		Title:      get("title"),
		Content:    get("content"),
		ChunkIndex: getInt("chunk_index"),
		WordCount:  getInt("word_count"),
		CharCount:  getInt("char_count"),
		Metadata: map[string]any{
			"model_used": get("model_used"),
			"indexed_at": get("indexed_at"),
		},
	}
}

// AsRetriever implements Store.
func (q *QdrantStore) AsRetriever(k int) *Retriever {
	return NewRetriever(q, k)
}

// Count implements Store.
func (q *QdrantStore) Count(ctx context.Context) (int, error) {
	info, err := q.collectionsClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: failed to get collection info: %w", err)
	}
	return int(info.Result.GetPointsCount()), nil
}

// Close implements Store.
func (q *QdrantStore) Close() error {
	return q.conn.Close()
}

func uint64Ptr(v uint64) *uint64 { return &v }

// Package embedding maps text to dense vectors for semantic retrieval.
//
// Two backends are provided: the OpenAI embeddings API and a local Ollama
// instance. All vectors produced by a single Provider share the same
// dimensionality.
package embedding

import "context"

// Provider is the abstraction over a text-embedding backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts. The returned slice has
	// the same length as texts, with the i-th vector corresponding to texts[i].
	// On error the entire result is nil; partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector from this provider.
	Dimensions() int

	// ModelID returns the backend model identifier, for logging and for
	// checking that indexed and queried vectors come from the same model.
	ModelID() string
}

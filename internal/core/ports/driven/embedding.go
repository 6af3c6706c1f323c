package driven

import "context"

// EmbeddingService generates vector embeddings from text.
// Optional: when nil, the pipeline stores chunks without vectors.
//
// Implementations may include Ollama (nomic-embed-text, all-minilm) or any
// OpenAI-compatible inference server.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 384, 768).
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	// Folded into content fingerprints so a model change invalidates
	// prior imports.
	ModelName() string

	// Ping validates the service is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

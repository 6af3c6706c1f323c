package driven

import (
	"context"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
)

// DocumentStore persists processed documents and their chunks.
// Saving a document or its chunks replaces any prior version with the same
// id, which keeps re-processing idempotent.
type DocumentStore interface {
	// SaveDocument stores or replaces a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by id.
	// Returns domain.ErrNotFound when absent.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// SaveChunks replaces all chunks of a document.
	SaveChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error

	// GetChunks retrieves a document's chunks ordered by position.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

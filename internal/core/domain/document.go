package domain

import "time"

// Document is the processed form of one attachment: extracted text plus
// catalog metadata, ready for chunked storage. Its ID is the stable
// document id (item key / attachment key) so re-processing overwrites
// rather than duplicates.
type Document struct {
	ID         string
	ItemKey    string
	Title      string
	Creators   []string
	Year       int
	Content    string
	SourcePath string
	ImportedAt time.Time
	UpdatedAt  time.Time
}

// Chunk is one searchable unit of a document.
type Chunk struct {
	// ID is the unique chunk id.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// Position is the ordinal position within the document.
	Position int

	// Content is the chunk text.
	Content string

	// Embedding is the vector representation, nil when embeddings are
	// disabled.
	Embedding []float32
}

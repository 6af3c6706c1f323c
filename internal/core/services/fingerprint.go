package services

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
)

// DefaultHashPrefix is how many leading bytes of a file are hashed.
// Combined with the total file size this is a fast proxy for content
// identity that stays cheap on very large documents.
const DefaultHashPrefix = 1 << 20 // 1 MiB

// Current processing policy versions. Folded into every fingerprint;
// bump when the chunking parameters or embedding handling change in a
// way that should re-process existing documents.
const (
	ChunkingPolicy  = "fixed-1000-200/v1"
	EmbeddingPolicy = "batch/v1"
)

// FingerprintService computes reproducible fingerprints of downloaded
// files plus the processing policies in effect, and decides "unchanged".
type FingerprintService struct {
	prefix          int64
	embeddingModel  string
	chunkingPolicy  string
	embeddingPolicy string
}

// FingerprintOption configures a FingerprintService.
type FingerprintOption func(*FingerprintService)

// WithHashPrefix sets how many leading file bytes are hashed.
func WithHashPrefix(n int64) FingerprintOption {
	return func(s *FingerprintService) {
		if n > 0 {
			s.prefix = n
		}
	}
}

// NewFingerprintService creates a fingerprint service for the given
// policy versions. The policy strings are folded into every hash so a
// policy upgrade invalidates all prior fingerprints without touching
// stored files.
func NewFingerprintService(embeddingModel, chunkingPolicy, embeddingPolicy string, opts ...FingerprintOption) *FingerprintService {
	s := &FingerprintService{
		prefix:          DefaultHashPrefix,
		embeddingModel:  embeddingModel,
		chunkingPolicy:  chunkingPolicy,
		embeddingPolicy: embeddingPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute fingerprints the file at path under the service's policies.
func (s *FingerprintService) Compute(path string) (*domain.Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	digest := xxhash.New()
	if _, err := io.Copy(digest, io.LimitReader(f, s.prefix)); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	// Fold size and policy versions into the hash itself.
	fmt.Fprintf(digest, "|%d|%s|%s|%s",
		info.Size(), s.embeddingModel, s.chunkingPolicy, s.embeddingPolicy)

	return &domain.Fingerprint{
		Hash:            fmt.Sprintf("%016x", digest.Sum64()),
		FileMtime:       info.ModTime().UTC(),
		FileSize:        info.Size(),
		EmbeddingModel:  s.embeddingModel,
		ChunkingPolicy:  s.chunkingPolicy,
		EmbeddingPolicy: s.embeddingPolicy,
	}, nil
}

// Unchanged reports whether a stored fingerprint still identifies the
// computed one. A nil stored fingerprint always reads as changed.
func (s *FingerprintService) Unchanged(stored *domain.Fingerprint, computed domain.Fingerprint) bool {
	if stored == nil {
		return false
	}
	return stored.Matches(computed)
}

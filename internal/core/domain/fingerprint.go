package domain

import "time"

// Fingerprint is a reproducible identity value for a downloaded file plus
// the processing policies in effect. Used to detect "unchanged" across
// re-imports so unchanged documents skip the pipeline entirely.
type Fingerprint struct {
	// Hash is the content hash, hex-encoded. Computed over a bounded
	// prefix of the file bytes, the total file size and the policy
	// versions, so hashing stays cheap on huge files and a policy upgrade
	// invalidates all prior fingerprints.
	Hash string `json:"hash"`

	// FileMtime is the file's modification time at hashing.
	FileMtime time.Time `json:"file_mtime"`

	// FileSize is the file's total size in bytes.
	FileSize int64 `json:"file_size"`

	// EmbeddingModel identifies the embedding model in effect.
	EmbeddingModel string `json:"embedding_model"`

	// ChunkingPolicy is the chunking policy version in effect.
	ChunkingPolicy string `json:"chunking_policy"`

	// EmbeddingPolicy is the embedding policy version in effect.
	EmbeddingPolicy string `json:"embedding_policy"`
}

// Matches reports whether two fingerprints identify the same processed
// content. Deliberately strict: the hash AND every metadata/policy field
// must agree. Hash-equal but metadata-different is treated as changed so a
// hash collision or a stale policy can never cause a silent skip.
func (f Fingerprint) Matches(other Fingerprint) bool {
	return f.Hash == other.Hash &&
		f.FileMtime.Equal(other.FileMtime) &&
		f.FileSize == other.FileSize &&
		f.EmbeddingModel == other.EmbeddingModel &&
		f.ChunkingPolicy == other.ChunkingPolicy &&
		f.EmbeddingPolicy == other.EmbeddingPolicy
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseFingerprint() Fingerprint {
	return Fingerprint{
		Hash:            "a1b2c3d4e5f60708",
		FileMtime:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		FileSize:        1024,
		EmbeddingModel:  "nomic-embed-text",
		ChunkingPolicy:  "v1",
		EmbeddingPolicy: "v1",
	}
}

func TestFingerprint_Matches(t *testing.T) {
	a := baseFingerprint()
	b := baseFingerprint()
	assert.True(t, a.Matches(b))
}

func TestFingerprint_Matches_AnyFieldMismatchMeansChanged(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Fingerprint)
	}{
		{"hash", func(f *Fingerprint) { f.Hash = "ffffffffffffffff" }},
		{"mtime", func(f *Fingerprint) { f.FileMtime = f.FileMtime.Add(time.Second) }},
		{"size", func(f *Fingerprint) { f.FileSize++ }},
		{"embedding model", func(f *Fingerprint) { f.EmbeddingModel = "all-minilm" }},
		{"chunking policy", func(f *Fingerprint) { f.ChunkingPolicy = "v2" }},
		{"embedding policy", func(f *Fingerprint) { f.EmbeddingPolicy = "v2" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := baseFingerprint()
			b := baseFingerprint()
			tt.mutate(&b)
			assert.False(t, a.Matches(b))
			assert.False(t, b.Matches(a))
		})
	}
}

// Equal hash with different mtime must read as changed: collision protection.
func TestFingerprint_CollisionProtection(t *testing.T) {
	a := baseFingerprint()
	b := baseFingerprint()
	b.FileMtime = b.FileMtime.Add(time.Hour)

	assert.Equal(t, a.Hash, b.Hash)
	assert.False(t, a.Matches(b))
}

func TestFingerprint_Matches_MtimeLocationInsensitive(t *testing.T) {
	a := baseFingerprint()
	b := baseFingerprint()
	b.FileMtime = b.FileMtime.In(time.FixedZone("CET", 3600))

	assert.True(t, a.Matches(b))
}

package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
)

// stubEmbedder returns fixed-size vectors derived from text length.
type stubEmbedder struct {
	batches int
	failing bool
}

var _ driven.EmbeddingService = (*stubEmbedder)(nil)

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.failing {
		return nil, domain.ErrSourceUnavailable
	}
	e.batches++
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t)), 0, 0}
	}
	return vecs, nil
}

func (e *stubEmbedder) Dimensions() int            { return 3 }
func (e *stubEmbedder) ModelName() string          { return "stub-model" }
func (e *stubEmbedder) Ping(context.Context) error { return nil }
func (e *stubEmbedder) Close() error               { return nil }

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func phaseRecorder(phases *[]domain.DocPhase) func(domain.DocPhase) error {
	return func(phase domain.DocPhase) error {
		*phases = append(*phases, phase)
		return nil
	}
}

func TestPipeline_ProcessFromScratch(t *testing.T) {
	store := memory.NewDocumentStore()
	embedder := &stubEmbedder{}
	p := New(store, WithEmbedder(embedder), WithChunker(NewChunker(WithChunkSize(100), WithChunkOverlap(10))))

	var phases []domain.DocPhase
	result, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "paper.txt", strings.Repeat("relevant text ", 30)),
		Item: domain.Item{
			Key:      "ITEM1",
			Title:    "A Survey of Retrieval",
			Creators: []string{"Doe, J."},
			Year:     2023,
		},
		OnPhase: phaseRecorder(&phases),
	})

	require.NoError(t, err)
	assert.Equal(t, []domain.DocPhase{
		domain.DocConverting, domain.DocChunking, domain.DocEmbedding, domain.DocStoring,
	}, phases)
	assert.Greater(t, result.ChunkCount, 1)
	assert.Empty(t, result.Warnings)

	doc, err := store.GetDocument(context.Background(), "ITEM1/ATT1")
	require.NoError(t, err)
	assert.Equal(t, "A Survey of Retrieval", doc.Title)
	assert.Equal(t, "ITEM1", doc.ItemKey)
	assert.Equal(t, 2023, doc.Year)
	assert.Contains(t, doc.Content, "relevant text")

	chunks, err := store.GetChunks(context.Background(), "ITEM1/ATT1")
	require.NoError(t, err)
	require.Len(t, chunks, result.ChunkCount)
	for _, c := range chunks {
		assert.Len(t, c.Embedding, 3)
	}
}

func TestPipeline_NoEmbedderStoresChunksWithoutVectors(t *testing.T) {
	store := memory.NewDocumentStore()
	p := New(store)

	result, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "notes.txt", "some text"),
		Item:       domain.Item{Key: "ITEM1", Title: "Notes"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)

	chunks, err := store.GetChunks(context.Background(), "ITEM1/ATT1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Embedding)
}

func TestPipeline_TitleFallsBackToExtraction(t *testing.T) {
	store := memory.NewDocumentStore()
	p := New(store)

	_, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "paper.md", "# Extracted Heading\n\nbody"),
		Item:       domain.Item{Key: "ITEM1"},
	})

	require.NoError(t, err)
	doc, err := store.GetDocument(context.Background(), "ITEM1/ATT1")
	require.NoError(t, err)
	assert.Equal(t, "Extracted Heading", doc.Title)
}

func TestPipeline_UnsupportedFileFailsInConverting(t *testing.T) {
	store := memory.NewDocumentStore()
	p := New(store)

	var phases []domain.DocPhase
	_, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "scan.pdf", "%PDF-1.4"),
		Item:       domain.Item{Key: "ITEM1"},
		OnPhase:    phaseRecorder(&phases),
	})

	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	assert.Equal(t, []domain.DocPhase{domain.DocConverting}, phases)
	_, getErr := store.GetDocument(context.Background(), "ITEM1/ATT1")
	assert.ErrorIs(t, getErr, domain.ErrNotFound)
}

func TestPipeline_MissingSourceFile(t *testing.T) {
	p := New(memory.NewDocumentStore())

	_, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: filepath.Join(t.TempDir(), "gone.txt"),
		Item:       domain.Item{Key: "ITEM1"},
	})

	assert.Error(t, err)
}

func TestPipeline_InvalidRequest(t *testing.T) {
	p := New(memory.NewDocumentStore())

	_, err := p.Process(context.Background(), driven.PipelineRequest{DocumentID: "ITEM1/ATT1"})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPipeline_InvalidStartPhase(t *testing.T) {
	p := New(memory.NewDocumentStore())

	_, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "a.txt", "x"),
		StartPhase: domain.DocDone,
	})

	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestPipeline_ResumeFromEmbedding(t *testing.T) {
	store := memory.NewDocumentStore()
	embedder := &stubEmbedder{}
	p := New(store, WithEmbedder(embedder))

	ctx := context.Background()
	require.NoError(t, store.SaveDocument(ctx, &domain.Document{
		ID: "ITEM1/ATT1", ItemKey: "ITEM1", Title: "Stored", Content: "stored content",
	}))
	require.NoError(t, store.SaveChunks(ctx, "ITEM1/ATT1", []domain.Chunk{
		{ID: "c1", DocumentID: "ITEM1/ATT1", Position: 0, Content: "stored"},
		{ID: "c2", DocumentID: "ITEM1/ATT1", Position: 1, Content: "content"},
	}))

	var phases []domain.DocPhase
	result, err := p.Process(ctx, driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "a.txt", "irrelevant, stages before embedding are skipped"),
		Item:       domain.Item{Key: "ITEM1"},
		StartPhase: domain.DocEmbedding,
		OnPhase:    phaseRecorder(&phases),
	})

	require.NoError(t, err)
	assert.Equal(t, []domain.DocPhase{domain.DocEmbedding, domain.DocStoring}, phases)
	assert.Equal(t, 2, result.ChunkCount)
	assert.Empty(t, result.Warnings)

	chunks, err := store.GetChunks(ctx, "ITEM1/ATT1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].ID, "stored chunks are reused, not recreated")
	assert.Len(t, chunks[0].Embedding, 3)

	doc, err := store.GetDocument(ctx, "ITEM1/ATT1")
	require.NoError(t, err)
	assert.Equal(t, "Stored", doc.Title, "converting stage was not redone")
}

func TestPipeline_ResumeWithoutStoredStateStartsOver(t *testing.T) {
	store := memory.NewDocumentStore()
	p := New(store)

	var phases []domain.DocPhase
	result, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "a.txt", "fresh content"),
		Item:       domain.Item{Key: "ITEM1", Title: "Fresh"},
		StartPhase: domain.DocEmbedding,
		OnPhase:    phaseRecorder(&phases),
	})

	require.NoError(t, err)
	assert.Equal(t, []domain.DocPhase{
		domain.DocConverting, domain.DocChunking, domain.DocEmbedding, domain.DocStoring,
	}, phases)
	assert.Len(t, result.Warnings, 1)
	assert.Equal(t, 1, result.ChunkCount)
}

func TestPipeline_OnPhaseErrorAborts(t *testing.T) {
	store := memory.NewDocumentStore()
	p := New(store)
	boom := errors.New("checkpoint write failed")

	_, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "a.txt", "content"),
		Item:       domain.Item{Key: "ITEM1"},
		OnPhase: func(phase domain.DocPhase) error {
			if phase == domain.DocChunking {
				return boom
			}
			return nil
		},
	})

	require.ErrorIs(t, err, boom)
	_, getErr := store.GetDocument(context.Background(), "ITEM1/ATT1")
	assert.ErrorIs(t, getErr, domain.ErrNotFound)
}

func TestPipeline_EmbeddingFailurePropagates(t *testing.T) {
	store := memory.NewDocumentStore()
	p := New(store, WithEmbedder(&stubEmbedder{failing: true}))

	_, err := p.Process(context.Background(), driven.PipelineRequest{
		DocumentID: "ITEM1/ATT1",
		SourcePath: writeSource(t, "a.txt", "content"),
		Item:       domain.Item{Key: "ITEM1"},
	})

	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	_, getErr := store.GetDocument(context.Background(), "ITEM1/ATT1")
	assert.ErrorIs(t, getErr, domain.ErrNotFound, "nothing stored when embedding fails")
}

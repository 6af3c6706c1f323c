package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

// Ensure Pipeline implements the interface.
var _ driven.DocumentPipeline = (*Pipeline)(nil)

// embedBatchSize bounds how many chunk texts go into one embedding request.
const embedBatchSize = 32

// phaseRank orders the runnable pipeline stages. Phases outside this map
// (pending, done, failed) are not valid stages to execute.
var phaseRank = map[domain.DocPhase]int{
	domain.DocConverting: 0,
	domain.DocChunking:   1,
	domain.DocEmbedding:  2,
	domain.DocStoring:    3,
}

// Pipeline processes one document at a time: convert, chunk, embed, store.
type Pipeline struct {
	docs     driven.DocumentStore
	embedder driven.EmbeddingService
	chunker  *Chunker
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithEmbedder sets the embedding service. When absent, chunks are stored
// without vectors.
func WithEmbedder(e driven.EmbeddingService) Option {
	return func(p *Pipeline) {
		p.embedder = e
	}
}

// WithChunker replaces the default chunker.
func WithChunker(c *Chunker) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.chunker = c
		}
	}
}

// New creates a pipeline that persists into the given document store.
func New(docs driven.DocumentStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		docs:    docs,
		chunker: NewChunker(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Process runs the pipeline stages for one document, starting from
// req.StartPhase. Completed stages are skipped on resume by reloading the
// persisted document and chunks; when that intermediate state is missing
// the pipeline falls back to an earlier stage and records a warning.
func (p *Pipeline) Process(ctx context.Context, req driven.PipelineRequest) (*driven.PipelineResult, error) {
	if req.DocumentID == "" || req.SourcePath == "" {
		return nil, fmt.Errorf("%w: document id and source path are required", domain.ErrInvalidInput)
	}

	start := req.StartPhase
	if start == "" || start == domain.DocPending {
		start = domain.DocConverting
	}
	if _, ok := phaseRank[start]; !ok {
		return nil, fmt.Errorf("%w: start phase %q", domain.ErrUnsupportedType, start)
	}

	var (
		warnings []string
		doc      *domain.Document
		chunks   []domain.Chunk
	)

	// Resuming past converting needs the stored document; past chunking
	// needs the stored chunks. A crash before the storing stage leaves
	// neither behind, so absence downgrades the start phase rather than
	// failing the document.
	if phaseRank[start] > phaseRank[domain.DocConverting] {
		stored, err := p.docs.GetDocument(ctx, req.DocumentID)
		switch {
		case err == nil:
			doc = stored
		case errors.Is(err, domain.ErrNotFound):
			warnings = append(warnings, "no stored document to resume from, converting again")
			start = domain.DocConverting
		default:
			return nil, fmt.Errorf("loading document %s: %w", req.DocumentID, err)
		}
	}
	if phaseRank[start] > phaseRank[domain.DocChunking] {
		stored, err := p.docs.GetChunks(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("loading chunks of %s: %w", req.DocumentID, err)
		}
		if len(stored) == 0 {
			warnings = append(warnings, "no stored chunks to resume from, chunking again")
			start = domain.DocChunking
		} else {
			chunks = stored
		}
	}

	enter := func(phase domain.DocPhase) error {
		logger.Debug("pipeline %s: %s", req.DocumentID, phase)
		if req.OnPhase == nil {
			return nil
		}
		return req.OnPhase(phase)
	}

	if phaseRank[start] <= phaseRank[domain.DocConverting] {
		if err := enter(domain.DocConverting); err != nil {
			return nil, err
		}
		d, err := p.convert(req)
		if err != nil {
			return nil, err
		}
		doc = d
	}

	if phaseRank[start] <= phaseRank[domain.DocChunking] {
		if err := enter(domain.DocChunking); err != nil {
			return nil, err
		}
		chunks = p.chunker.Split(doc)
	}

	if phaseRank[start] <= phaseRank[domain.DocEmbedding] {
		if err := enter(domain.DocEmbedding); err != nil {
			return nil, err
		}
		if p.embedder != nil {
			if err := p.embed(ctx, chunks); err != nil {
				return nil, fmt.Errorf("embedding %s: %w", req.DocumentID, err)
			}
		}
	}

	if err := enter(domain.DocStoring); err != nil {
		return nil, err
	}
	if err := p.docs.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("storing document %s: %w", req.DocumentID, err)
	}
	if err := p.docs.SaveChunks(ctx, req.DocumentID, chunks); err != nil {
		return nil, fmt.Errorf("storing chunks of %s: %w", req.DocumentID, err)
	}

	return &driven.PipelineResult{
		ChunkCount: len(chunks),
		Warnings:   warnings,
	}, nil
}

// convert reads the downloaded file and builds the document. The catalog
// title wins over anything extracted from the file itself.
func (p *Pipeline) convert(req driven.PipelineRequest) (*domain.Document, error) {
	raw, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.SourcePath, err)
	}

	content, extractedTitle, err := extractText(req.SourcePath, raw)
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", req.DocumentID, err)
	}

	title := req.Item.Title
	if title == "" {
		title = extractedTitle
	}

	now := time.Now()
	return &domain.Document{
		ID:         req.DocumentID,
		ItemKey:    req.Item.Key,
		Title:      title,
		Creators:   slices.Clone(req.Item.Creators),
		Year:       req.Item.Year,
		Content:    content,
		SourcePath: req.SourcePath,
		ImportedAt: now,
		UpdatedAt:  now,
	}, nil
}

// embed fills in chunk embeddings in place, batching requests.
func (p *Pipeline) embed(ctx context.Context, chunks []domain.Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedding service returned %d vectors for %d chunks", len(vecs), len(texts))
		}

		for i := range vecs {
			chunks[start+i].Embedding = vecs[i]
		}
	}

	return nil
}

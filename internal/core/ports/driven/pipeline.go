package driven

import (
	"context"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
)

// PipelineRequest describes one document to process.
type PipelineRequest struct {
	// DocumentID is the stable document identity (item key / attachment key).
	DocumentID string

	// SourcePath is the downloaded file on local disk.
	SourcePath string

	// Item carries the catalog metadata for the owning item.
	Item domain.Item

	// StartPhase is the first pipeline stage to run. DocPending or
	// DocConverting means from scratch; a later phase resumes a document
	// that was interrupted mid-pipeline, picking up persisted intermediate
	// state instead of redoing completed stages.
	StartPhase domain.DocPhase

	// OnPhase is called when the pipeline enters each stage, before any
	// work for that stage. The orchestrator persists the checkpoint here.
	// A non-nil return aborts processing with that error. May be nil.
	OnPhase func(domain.DocPhase) error
}

// PipelineResult is the outcome of processing one document.
type PipelineResult struct {
	// ChunkCount is the number of chunks produced (or already stored, for
	// a resumed document).
	ChunkCount int

	// Warnings are non-fatal problems encountered while processing.
	Warnings []string
}

// DocumentPipeline converts, chunks, embeds and indexes one document.
// Invoked by the import orchestrator only for new or changed documents;
// unchanged documents are skipped before the pipeline is ever called.
// Each stage may fail independently; the orchestrator only needs
// success/failure plus a chunk count for statistics.
type DocumentPipeline interface {
	Process(ctx context.Context, req PipelineRequest) (*PipelineResult, error)
}

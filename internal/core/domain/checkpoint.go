package domain

import (
	"fmt"
	"time"
)

// CheckpointSchemaVersion is the current checkpoint file schema version.
const CheckpointSchemaVersion = 1

// RunPhase is the overall phase of an import run.
type RunPhase string

const (
	// PhaseDownloading means phase 1 (download-all) is in progress.
	PhaseDownloading RunPhase = "downloading"

	// PhaseProcessing means phase 2 (process-all) is in progress.
	PhaseProcessing RunPhase = "processing"

	// PhaseComplete means every document is done or explicitly accepted
	// as failed.
	PhaseComplete RunPhase = "complete"

	// PhaseFailed means the run hit an unrecoverable error.
	PhaseFailed RunPhase = "failed"
)

// DocPhase is the processing phase of one document.
type DocPhase string

const (
	DocPending    DocPhase = "pending"
	DocConverting DocPhase = "converting"
	DocChunking   DocPhase = "chunking"
	DocEmbedding  DocPhase = "embedding"
	DocStoring    DocPhase = "storing"
	DocDone       DocPhase = "done"
	DocFailed     DocPhase = "failed"
)

// validDocPhases is the closed set of document phases.
var validDocPhases = map[DocPhase]bool{
	DocPending: true, DocConverting: true, DocChunking: true,
	DocEmbedding: true, DocStoring: true, DocDone: true, DocFailed: true,
}

// Statistics aggregates run-level counters.
type Statistics struct {
	DocumentsTotal     int     `json:"documents_total"`
	DocumentsCompleted int     `json:"documents_completed"`
	DocumentsSkipped   int     `json:"documents_skipped"`
	DocumentsFailed    int     `json:"documents_failed"`
	ChunksCreated      int     `json:"chunks_created"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
}

// DocumentCheckpoint tracks one document's progress through the pipeline.
type DocumentCheckpoint struct {
	// DocumentID is the stable identity (item key / attachment key).
	DocumentID string `json:"document_id"`

	Phase      DocPhase  `json:"phase"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Error      string    `json:"error,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
}

// Checkpoint is the durable record of per-document progress enabling
// resume. Created at run start, mutated only by the import orchestrator,
// persisted atomically after every transition.
type Checkpoint struct {
	SchemaVersion int                  `json:"schema_version"`
	RunID         string               `json:"run_id"`
	CollectionKey string               `json:"collection_key"`
	Phase         RunPhase             `json:"phase"`
	StartedAt     time.Time            `json:"started_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	Documents     []DocumentCheckpoint `json:"documents"`
	Stats         Statistics           `json:"stats"`
}

// NewCheckpoint creates a checkpoint for a fresh run.
func NewCheckpoint(runID, collectionKey string) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		SchemaVersion: CheckpointSchemaVersion,
		RunID:         runID,
		CollectionKey: collectionKey,
		Phase:         PhaseDownloading,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// Document finds a document entry by id. Returns nil when absent.
func (c *Checkpoint) Document(documentID string) *DocumentCheckpoint {
	for i := range c.Documents {
		if c.Documents[i].DocumentID == documentID {
			return &c.Documents[i]
		}
	}
	return nil
}

// EnsureDocument finds or appends a document entry. New entries start
// pending. The returned pointer stays valid until the next append.
func (c *Checkpoint) EnsureDocument(documentID string) *DocumentCheckpoint {
	if dc := c.Document(documentID); dc != nil {
		return dc
	}
	now := time.Now().UTC()
	c.Documents = append(c.Documents, DocumentCheckpoint{
		DocumentID: documentID,
		Phase:      DocPending,
		StartedAt:  now,
		UpdatedAt:  now,
	})
	return &c.Documents[len(c.Documents)-1]
}

// SetDocumentPhase transitions a document and stamps UpdatedAt on both the
// document and the checkpoint.
func (c *Checkpoint) SetDocumentPhase(documentID string, phase DocPhase, errMsg string) {
	dc := c.EnsureDocument(documentID)
	dc.Phase = phase
	dc.Error = errMsg
	now := time.Now().UTC()
	dc.UpdatedAt = now
	c.UpdatedAt = now
}

// Validate checks structural and referential integrity: schema version,
// phase values from the defined enumerations and unique document ids.
func (c *Checkpoint) Validate() error {
	if c.SchemaVersion != CheckpointSchemaVersion {
		return fmt.Errorf("%w: schema version %d", ErrCheckpointCorrupt, c.SchemaVersion)
	}
	if c.RunID == "" {
		return fmt.Errorf("%w: missing run id", ErrCheckpointCorrupt)
	}
	switch c.Phase {
	case PhaseDownloading, PhaseProcessing, PhaseComplete, PhaseFailed:
	default:
		return fmt.Errorf("%w: run phase %q", ErrCheckpointCorrupt, c.Phase)
	}
	seen := make(map[string]bool, len(c.Documents))
	for i := range c.Documents {
		dc := &c.Documents[i]
		if dc.DocumentID == "" {
			return fmt.Errorf("%w: empty document id", ErrCheckpointCorrupt)
		}
		if seen[dc.DocumentID] {
			return fmt.Errorf("%w: duplicate document id %q", ErrCheckpointCorrupt, dc.DocumentID)
		}
		seen[dc.DocumentID] = true
		if !validDocPhases[dc.Phase] {
			return fmt.Errorf("%w: document phase %q", ErrCheckpointCorrupt, dc.Phase)
		}
	}
	return nil
}

// Terminal reports whether the run reached a terminal phase.
func (c *Checkpoint) Terminal() bool {
	return c.Phase == PhaseComplete || c.Phase == PhaseFailed
}

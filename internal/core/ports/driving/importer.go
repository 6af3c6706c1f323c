package driving

import (
	"context"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
)

// ImportOptions configures one import run.
type ImportOptions struct {
	// Collection is the target collection, by name or by key in either
	// namespace.
	Collection string

	// Strategy selects the source routing strategy for the run.
	Strategy domain.Strategy

	// IncludeSub expands sub-collections recursively.
	IncludeSub bool

	// Tags filters items before any attachment is downloaded.
	Tags domain.TagFilter

	// BatchSize bounds how many attachments are in flight between
	// checkpoint flushes during phase 1. Zero means the default.
	BatchSize int

	// Workers sizes the download worker pool. Zero means the default.
	Workers int

	// FailFast aborts the run on the first document failure instead of
	// isolating it and continuing.
	FailFast bool

	// DownloadOnly stops after phase 1, leaving a manifest for a later
	// process-only invocation.
	DownloadOnly bool

	// ProcessOnly skips phase 1 and processes an existing manifest
	// (requires RunID).
	ProcessOnly bool

	// RunID targets an existing run for ProcessOnly. Empty starts a new
	// run with a generated correlation id.
	RunID string
}

// DocumentOutcome is one document's final state in a run summary.
type DocumentOutcome struct {
	DocumentID string
	Phase      domain.DocPhase
	Skipped    bool
	ChunkCount int
	Error      string
}

// ImportSummary is the final report of a run: per-document successes,
// unchanged skips and failures with reasons. Nothing is silently dropped.
type ImportSummary struct {
	RunID     string
	Phase     domain.RunPhase
	Stats     domain.Statistics
	Documents []DocumentOutcome
}

// ImportStatus is a point-in-time view of a running or finished import.
type ImportStatus struct {
	RunID              string
	Running            bool
	Phase              domain.RunPhase
	DocumentsTotal     int
	DocumentsCompleted int
	DocumentsSkipped   int
	DocumentsFailed    int
	Downloaded         int
	DownloadsFailed    int
}

// BatchImporter drives the two-phase import state machine.
type BatchImporter interface {
	// Run starts a fresh import run.
	Run(ctx context.Context, opts ImportOptions) (*ImportSummary, error)

	// Resume continues an interrupted run from its checkpoint. Documents
	// already done are skipped, failed documents are retried, and
	// documents interrupted mid-pipeline continue from their last
	// completed stage. Returns domain.ErrCheckpointCorrupt without
	// touching any state when the checkpoint fails validation.
	Resume(ctx context.Context, runID string, opts ImportOptions) (*ImportSummary, error)

	// Status reports progress for a run.
	Status(ctx context.Context, runID string) (*ImportStatus, error)

	// Active snapshots the runs currently executing in this process.
	// Lets a progress display follow a fresh run whose generated id the
	// caller does not know yet.
	Active() []*ImportStatus

	// Cleanup removes a run's checkpoint and manifest. Checkpoints are
	// never removed implicitly.
	Cleanup(ctx context.Context, runID string) error
}

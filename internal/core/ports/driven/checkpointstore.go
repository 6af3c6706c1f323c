package driven

import (
	"context"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
)

// CheckpointStore persists ingestion checkpoints, one per run, named by the
// run's correlation id.
//
// Save must be atomic (write to a temporary file, then rename): whatever
// was last durably recorded is exactly what a resumed run will see.
// Checkpoints are only removed by Delete, never implicitly.
type CheckpointStore interface {
	// Save durably stores a checkpoint.
	Save(ctx context.Context, cp *domain.Checkpoint) error

	// Load retrieves the checkpoint for a run. Returns domain.ErrNotFound
	// when absent. A file that exists but fails schema validation returns
	// an error wrapping domain.ErrCheckpointCorrupt; callers must treat
	// that as fatal for resume rather than discarding progress.
	Load(ctx context.Context, runID string) (*domain.Checkpoint, error)

	// Latest returns the most recently updated checkpoint. Returns
	// domain.ErrNotFound when none exists.
	Latest(ctx context.Context) (*domain.Checkpoint, error)

	// Delete removes a run's checkpoint. Removing a missing checkpoint is
	// not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the run ids of all stored checkpoints.
	List(ctx context.Context) ([]string, error)
}

package driven

import (
	"context"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
)

// ManifestStore persists download manifests, one per run.
//
// Save must be atomic: a reader observes either the previous content or the
// fully-new content, never a torn file.
type ManifestStore interface {
	// Save durably stores a manifest.
	Save(ctx context.Context, m *domain.Manifest) error

	// Load retrieves the manifest for a run. Returns domain.ErrNotFound
	// when absent and an error wrapping domain.ErrManifestCorrupt when the
	// stored form fails validation.
	Load(ctx context.Context, runID string) (*domain.Manifest, error)

	// LatestForCollection returns the most recently created manifest for a
	// collection key, across runs. Used to seed prior fingerprints on a
	// fresh re-import. Returns domain.ErrNotFound when none exists.
	LatestForCollection(ctx context.Context, collectionKey string) (*domain.Manifest, error)

	// Delete removes a run's manifest. Removing a missing manifest is not
	// an error.
	Delete(ctx context.Context, runID string) error

	// List returns the run ids of all stored manifests.
	List(ctx context.Context) ([]string, error)
}

package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
)

// Ensure ManifestStore implements the interface.
var _ driven.ManifestStore = (*ManifestStore)(nil)

const manifestExt = ".manifest.json"

// ManifestStore persists manifests as one JSON file per run under
// <dir>/manifests.
type ManifestStore struct {
	mu  sync.Mutex
	dir string
}

// NewManifestStore creates the store under dataDir.
func NewManifestStore(dataDir string) (*ManifestStore, error) {
	dir := filepath.Join(dataDir, "manifests")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating manifest directory: %w", err)
	}
	return &ManifestStore{dir: dir}, nil
}

// Save writes the manifest atomically.
func (s *ManifestStore) Save(_ context.Context, m *domain.Manifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid manifest: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(m.RunID), data)
}

// Load reads and validates a manifest.
func (s *ManifestStore) Load(_ context.Context, runID string) (*domain.Manifest, error) {
	data, err := os.ReadFile(s.path(runID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("manifest %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", runID, err)
	}

	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", domain.ErrManifestCorrupt, runID, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &m, nil
}

// LatestForCollection returns the most recently created manifest for a
// collection key.
func (s *ManifestStore) LatestForCollection(ctx context.Context, collectionKey string) (*domain.Manifest, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var latest *domain.Manifest
	for _, id := range ids {
		m, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		if m.Collection.Key != collectionKey {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no manifest for collection %s: %w", collectionKey, domain.ErrNotFound)
	}
	return latest, nil
}

// Delete removes a run's manifest. Missing files are fine.
func (s *ManifestStore) Delete(_ context.Context, runID string) error {
	err := os.Remove(s.path(runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting manifest %s: %w", runID, err)
	}
	return nil
}

// List returns the run ids of all stored manifests.
func (s *ManifestStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, manifestExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, manifestExt))
	}
	return ids, nil
}

func (s *ManifestStore) path(runID string) string {
	return filepath.Join(s.dir, runID+manifestExt)
}

// Package memory provides in-memory store implementations for tests and
// ephemeral runs.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
)

// Ensure ManifestStore implements the interface.
var _ driven.ManifestStore = (*ManifestStore)(nil)

// ManifestStore is an in-memory implementation of driven.ManifestStore.
// Manifests are deep-copied on save and load so callers never share state
// with the store.
type ManifestStore struct {
	mu        sync.RWMutex
	manifests map[string]*domain.Manifest
	order     []string // save order, oldest first
}

// NewManifestStore creates a new in-memory manifest store.
func NewManifestStore() *ManifestStore {
	return &ManifestStore{manifests: make(map[string]*domain.Manifest)}
}

// Save stores a deep copy of the manifest.
func (s *ManifestStore) Save(_ context.Context, m *domain.Manifest) error {
	copied, err := copyManifest(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.manifests[m.RunID]; !exists {
		s.order = append(s.order, m.RunID)
	}
	s.manifests[m.RunID] = copied
	return nil
}

// Load retrieves the manifest for a run.
func (s *ManifestStore) Load(_ context.Context, runID string) (*domain.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyManifest(m)
}

// LatestForCollection returns the most recently saved manifest for a
// collection key.
func (s *ManifestStore) LatestForCollection(_ context.Context, collectionKey string) (*domain.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.manifests[s.order[i]]
		if m != nil && m.Collection.Key == collectionKey {
			return copyManifest(m)
		}
	}
	return nil, domain.ErrNotFound
}

// Delete removes a run's manifest.
func (s *ManifestStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.manifests, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns the run ids of all stored manifests.
func (s *ManifestStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids, nil
}

func copyManifest(m *domain.Manifest) (*domain.Manifest, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var copied domain.Manifest
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}

package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
)

// Ensure CheckpointStore implements the interface.
var _ driven.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore is an in-memory implementation of driven.CheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*domain.Checkpoint
	order       []string // save order, oldest first
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]*domain.Checkpoint)}
}

// Save stores a deep copy of the checkpoint.
func (s *CheckpointStore) Save(_ context.Context, cp *domain.Checkpoint) error {
	copied, err := copyCheckpoint(cp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.checkpoints[cp.RunID]; !exists {
		s.order = append(s.order, cp.RunID)
	}
	s.checkpoints[cp.RunID] = copied
	return nil
}

// Load retrieves the checkpoint for a run, validating it the way a
// file-backed store would.
func (s *CheckpointStore) Load(_ context.Context, runID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return copyCheckpoint(cp)
}

// Latest returns the most recently saved checkpoint.
func (s *CheckpointStore) Latest(_ context.Context) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil, domain.ErrNotFound
	}
	return copyCheckpoint(s.checkpoints[s.order[len(s.order)-1]])
}

// Delete removes a run's checkpoint.
func (s *CheckpointStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns the run ids of all stored checkpoints.
func (s *CheckpointStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids, nil
}

func copyCheckpoint(cp *domain.Checkpoint) (*domain.Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	var copied domain.Checkpoint
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}

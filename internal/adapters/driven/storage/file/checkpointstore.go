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

// Ensure CheckpointStore implements the interface.
var _ driven.CheckpointStore = (*CheckpointStore)(nil)

const checkpointExt = ".checkpoint.json"

// CheckpointStore persists checkpoints as one JSON file per run under
// <dir>/checkpoints.
type CheckpointStore struct {
	mu  sync.Mutex
	dir string
}

// NewCheckpointStore creates the store under dataDir.
func NewCheckpointStore(dataDir string) (*CheckpointStore, error) {
	dir := filepath.Join(dataDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

// Save writes the checkpoint atomically.
func (s *CheckpointStore) Save(_ context.Context, cp *domain.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid checkpoint: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(cp.RunID), data)
}

// Load reads and validates a checkpoint.
func (s *CheckpointStore) Load(_ context.Context, runID string) (*domain.Checkpoint, error) {
	data, err := os.ReadFile(s.path(runID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("checkpoint %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", runID, err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", domain.ErrCheckpointCorrupt, runID, err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	if cp.RunID != runID {
		return nil, fmt.Errorf("%w: file for run %s names run %s", domain.ErrCheckpointCorrupt, runID, cp.RunID)
	}
	return &cp, nil
}

// Latest returns the most recently updated checkpoint.
func (s *CheckpointStore) Latest(ctx context.Context) (*domain.Checkpoint, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var latest *domain.Checkpoint
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err != nil {
			// A corrupt sibling must not hide the healthy latest run.
			continue
		}
		if latest == nil || cp.UpdatedAt.After(latest.UpdatedAt) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

// Delete removes a run's checkpoint. Missing files are fine.
func (s *CheckpointStore) Delete(_ context.Context, runID string) error {
	err := os.Remove(s.path(runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting checkpoint %s: %w", runID, err)
	}
	return nil
}

// List returns the run ids of all stored checkpoints.
func (s *CheckpointStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, checkpointExt))
	}
	return ids, nil
}

func (s *CheckpointStore) path(runID string) string {
	return filepath.Join(s.dir, runID+checkpointExt)
}

package checkpoint

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
)

// MemoryManager keeps checkpoints in memory. Positions are lost when the
// process exits.
type MemoryManager struct {
	mu          sync.Mutex
	checkpoints map[string]cdc.Checkpoint
}

// NewMemoryManager creates an empty in-memory checkpoint manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{checkpoints: make(map[string]cdc.Checkpoint)}
}

// Save stores a checkpoint.
func (m *MemoryManager) Save(_ context.Context, checkpoint cdc.Checkpoint) error {
	if checkpoint.CommittedAt.IsZero() {
		checkpoint.CommittedAt = time.Now()
	}
	checkpoint.Metadata = maps.Clone(checkpoint.Metadata)

	m.mu.Lock()
	m.checkpoints[checkpoint.SourceID] = checkpoint
	m.mu.Unlock()
	return nil
}

// Load returns the stored checkpoint of a source.
func (m *MemoryManager) Load(_ context.Context, sourceID string) (*cdc.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoint, ok := m.checkpoints[sourceID]
	if !ok {
		return nil, nil
	}
	return &checkpoint, nil
}

// Delete removes the checkpoint of a source.
func (m *MemoryManager) Delete(_ context.Context, sourceID string) error {
	m.mu.Lock()
	delete(m.checkpoints, sourceID)
	m.mu.Unlock()
	return nil
}

// Close does nothing.
func (m *MemoryManager) Close() error {
	return nil
}

var _ Manager = (*MemoryManager)(nil)

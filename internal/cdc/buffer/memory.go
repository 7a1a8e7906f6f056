package buffer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
)

// MemoryManager buffers events in memory. It is used when no buffer
// database is configured and in tests.
type MemoryManager struct {
	mu     sync.Mutex
	nextID int64
	events []BufferedEvent
}

// NewMemoryManager creates an empty in-memory buffer.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{}
}

// Write appends events to the buffer.
func (m *MemoryManager) Write(_ context.Context, events []cdc.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, e := range events {
		m.nextID++
		m.events = append(m.events, BufferedEvent{ID: m.nextID, Event: e, CreatedAt: now})
	}
	return nil
}

// ReadBatch returns up to limit unprocessed events of a source.
func (m *MemoryManager) ReadBatch(_ context.Context, sourceID string, limit int) ([]BufferedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []BufferedEvent
	for _, be := range m.events {
		if len(batch) == limit {
			break
		}
		if be.ProcessedAt == nil && be.Event.Source == sourceID {
			batch = append(batch, be)
		}
	}
	return batch, nil
}

// MarkProcessed marks events as processed by their IDs.
func (m *MemoryManager) MarkProcessed(_ context.Context, eventIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for i := range m.events {
		if slices.Contains(eventIDs, m.events[i].ID) {
			m.events[i].ProcessedAt = &now
		}
	}
	return nil
}

// Cleanup removes processed events older than retention.
func (m *MemoryManager) Cleanup(_ context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	before := len(m.events)
	m.events = slices.DeleteFunc(m.events, func(be BufferedEvent) bool {
		return be.ProcessedAt != nil && be.ProcessedAt.Before(cutoff)
	})
	return int64(before - len(m.events)), nil
}

// Stats returns buffer statistics.
func (m *MemoryManager) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{TotalEvents: int64(len(m.events))}
	for _, be := range m.events {
		if be.ProcessedAt != nil {
			continue
		}
		stats.UnprocessedEvents++
		if stats.OldestUnprocessed == nil {
			created := be.CreatedAt
			stats.OldestUnprocessed = &created
			stats.Lag = time.Since(created)
		}
	}
	return stats, nil
}

// Events returns a copy of every buffered event.
func (m *MemoryManager) Events() []cdc.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]cdc.Event, len(m.events))
	for i, be := range m.events {
		events[i] = be.Event
	}
	return events
}

// Close does nothing.
func (m *MemoryManager) Close() error {
	return nil
}

var _ Manager = (*MemoryManager)(nil)

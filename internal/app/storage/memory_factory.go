package storage

import (
	"context"

	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
)

// MemoryFactory creates in-memory stores. Nothing survives a restart, so it
// only suits tests and dry runs.
type MemoryFactory struct {
	refreshStore *refresh.MemoryStore
	queueStore   *queue.MemoryStore
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a MemoryFactory
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{
		refreshStore: refresh.NewMemoryStore(refresh.Record{}),
		queueStore:   queue.NewMemoryStore(),
	}
}

// CreateRefreshStore implements Factory
func (m *MemoryFactory) CreateRefreshStore(_ context.Context) (refresh.Store, error) {
	return m.refreshStore, nil
}

// CreateQueueStore implements Factory
func (m *MemoryFactory) CreateQueueStore(_ context.Context) (queue.Store, error) {
	return m.queueStore, nil
}

// Cleanup implements Factory
func (*MemoryFactory) Cleanup() {}

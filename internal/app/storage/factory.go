// Package storage creates the persistent stores as a family, so the refresh
// record and the operation queue always share one backend and one data directory.
package storage

import (
	"context"
	"fmt"

	"github.com/stacklok/cadence-sync/internal/config"
	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
)

// Factory creates storage-dependent components
type Factory interface {
	// CreateRefreshStore returns the durable refresh record store
	CreateRefreshStore(ctx context.Context) (refresh.Store, error)

	// CreateQueueStore returns the operation queue store
	CreateQueueStore(ctx context.Context) (queue.Store, error)

	// Cleanup releases locks and closes databases. Safe to call more than once.
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configured storage type
func NewStorageFactory(cfg *config.Config, dataDir string) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.GetStorageType() {
	case config.StorageTypeFile:
		return NewFileFactory(dataDir)
	case config.StorageTypeMemory:
		return NewMemoryFactory(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
}

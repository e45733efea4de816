package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
)

// FileFactory keeps the refresh record as a locked JSON file and the queue in
// a SQLite database, both under one data directory
type FileFactory struct {
	dataDir string

	mu           sync.Mutex
	refreshStore *refresh.FileStore
	queueStore   *queue.SQLiteStore
}

var _ Factory = (*FileFactory)(nil)

// NewFileFactory creates the data directory if needed
func NewFileFactory(dataDir string) (*FileFactory, error) {
	if dataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	slog.Info("Creating file-based storage factory", "data_dir", dataDir)
	return &FileFactory{dataDir: dataDir}, nil
}

// CreateRefreshStore opens the refresh record store, taking its process lock
func (f *FileFactory) CreateRefreshStore(_ context.Context) (refresh.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refreshStore != nil {
		return f.refreshStore, nil
	}
	store, err := refresh.OpenFileStore(f.dataDir)
	if err != nil {
		return nil, err
	}
	f.refreshStore = store
	slog.Debug("Opened refresh record store", "path", store.Path())
	return store, nil
}

// CreateQueueStore opens the queue database
func (f *FileFactory) CreateQueueStore(ctx context.Context) (queue.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.queueStore != nil {
		return f.queueStore, nil
	}
	path := filepath.Join(f.dataDir, queue.DatabaseFileName)
	store, err := queue.OpenSQLiteStore(ctx, path)
	if err != nil {
		return nil, err
	}
	f.queueStore = store
	slog.Debug("Opened queue database", "path", path)
	return store, nil
}

// Cleanup closes the queue database and releases the refresh store lock
func (f *FileFactory) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.queueStore != nil {
		if err := f.queueStore.Close(); err != nil {
			slog.Error("Failed to close queue database", "error", err)
		}
		f.queueStore = nil
	}
	if f.refreshStore != nil {
		if err := f.refreshStore.Close(); err != nil {
			slog.Error("Failed to release refresh store lock", "error", err)
		}
		f.refreshStore = nil
	}
}

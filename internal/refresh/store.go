package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// RecordFileName is the name of the refresh record file
	RecordFileName = "refresh.json"

	lockFileName = "refresh.lock"
)

// ErrStoreLocked is returned when another process owns the record store
var ErrStoreLocked = errors.New("refresh record store is locked by another process")

// Record is the persisted state of the refresh scheduler
type Record struct {
	// LastRunAt is the time of the last completed refresh run
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`

	// LastNotifiedAt is the time the last "assessment due" notification was scheduled
	LastNotifiedAt *time.Time `json:"lastNotifiedAt,omitempty"`
}

// Clone returns a deep copy of r
func (r Record) Clone() Record {
	out := Record{}
	if r.LastRunAt != nil {
		t := *r.LastRunAt
		out.LastRunAt = &t
	}
	if r.LastNotifiedAt != nil {
		t := *r.LastNotifiedAt
		out.LastNotifiedAt = &t
	}
	return out
}

// Store persists the refresh record
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store
type Store interface {
	// Load returns the stored record, or an empty record if none was ever saved
	Load(ctx context.Context) (Record, error)

	// Save writes the record durably: when Save returns nil the record
	// survives an immediate process kill.
	Save(ctx context.Context, rec Record) error

	// Reset deletes the record (explicit user data reset)
	Reset(ctx context.Context) error
}

// FileStore keeps the record as a JSON file. Writes go to a temporary file
// that is fsynced and renamed over the record, then the directory is fsynced.
// An advisory file lock keeps a second process from writing concurrently.
type FileStore struct {
	dir  string
	lock *flock.Flock
}

// OpenFileStore creates dir if needed and takes the store lock.
// It returns ErrStoreLocked if another process holds the lock.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create refresh record directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock refresh record store: %w", err)
	}
	if !locked {
		return nil, ErrStoreLocked
	}

	return &FileStore{dir: dir, lock: lock}, nil
}

// Path returns the location of the record file
func (f *FileStore) Path() string {
	return filepath.Join(f.dir, RecordFileName)
}

// Load reads the record; a missing file yields an empty record (first run)
func (f *FileStore) Load(_ context.Context) (Record, error) {
	// #nosec G304 -- path is built from the configured data directory
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("failed to read refresh record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal refresh record: %w", err)
	}
	return rec, nil
}

// Save writes rec and flushes it to stable storage before returning.
// The context is ignored: a durable write is never abandoned half way.
func (f *FileStore) Save(_ context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal refresh record: %w", err)
	}

	filePath := f.Path()
	tempPath := filePath + ".tmp"
	if err := writeSynced(tempPath, data); err != nil {
		_ = os.Remove(tempPath)
		return err
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename refresh record: %w", err)
	}

	return syncDir(f.dir)
}

// Reset removes the record file
func (f *FileStore) Reset(_ context.Context) error {
	if err := os.Remove(f.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove refresh record: %w", err)
	}
	return syncDir(f.dir)
}

// Close releases the store lock
func (f *FileStore) Close() error {
	return f.lock.Unlock()
}

func writeSynced(path string, data []byte) error {
	// #nosec G304 -- path is built from the configured data directory
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary refresh record: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write temporary refresh record: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to flush temporary refresh record: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temporary refresh record: %w", err)
	}
	return nil
}

// syncDir makes a rename in dir durable
func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- configured data directory
	if err != nil {
		return fmt.Errorf("failed to open refresh record directory: %w", err)
	}
	defer func() {
		_ = d.Close()
	}()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to flush refresh record directory: %w", err)
	}
	return nil
}

// MemoryStore keeps the record in memory. It is meant for tests and hosts
// that do not need the record to survive a restart.
type MemoryStore struct {
	mu  sync.Mutex
	rec Record
}

// NewMemoryStore creates a store holding rec
func NewMemoryStore(rec Record) *MemoryStore {
	return &MemoryStore{rec: rec.Clone()}
}

// Load returns a copy of the stored record
func (m *MemoryStore) Load(_ context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Clone(), nil
}

// Save replaces the stored record
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = rec.Clone()
	return nil
}

// Reset clears the stored record
func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = Record{}
	return nil
}

package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when no operation has the requested id
var ErrNotFound = errors.New("operation not found")

// Store persists queued operations
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store
type Store interface {
	// Append stores a new operation and assigns its Sequence
	Append(ctx context.Context, op *Operation) error

	// List returns all operations ordered by Sequence
	List(ctx context.Context) ([]Operation, error)

	// Get returns the operation with the given id or ErrNotFound
	Get(ctx context.Context, id string) (Operation, error)

	// Update replaces the mutable fields of an existing operation
	Update(ctx context.Context, op Operation) error

	// Delete removes an operation; it returns ErrNotFound if absent
	Delete(ctx context.Context, id string) error

	Close() error
}

// MemoryStore keeps operations in memory. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	next int64
	ops  map[string]Operation
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]Operation)}
}

// Append implements Store
func (m *MemoryStore) Append(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ops[op.ID]; exists {
		return errors.New("operation id already exists")
	}
	m.next++
	op.Sequence = m.next
	m.ops[op.ID] = op.Clone()
	return nil
}

// List implements Store
func (m *MemoryStore) List(_ context.Context) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, id string) (Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[id]
	if !ok {
		return Operation{}, ErrNotFound
	}
	return op.Clone(), nil
}

// Update implements Store
func (m *MemoryStore) Update(_ context.Context, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.ops[op.ID]
	if !ok {
		return ErrNotFound
	}
	op.Sequence = existing.Sequence
	m.ops[op.ID] = op.Clone()
	return nil
}

// Delete implements Store
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ops[id]; !ok {
		return ErrNotFound
	}
	delete(m.ops, id)
	return nil
}

// Close implements Store
func (*MemoryStore) Close() error {
	return nil
}

package outbox

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps pending records in process. Records do not survive a
// restart, so it only fits tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[Key]StatusSubmission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[Key]StatusSubmission)}
}

func (m *MemoryStore) Put(_ context.Context, sub StatusSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[sub.Key()] = sub
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key Key) (StatusSubmission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.pending[key]
	return sub, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]StatusSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StatusSubmission, 0, len(m.pending))
	for _, sub := range m.pending {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out, nil
}

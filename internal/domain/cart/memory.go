package cart

import (
	"context"
	"slices"
	"sync"
)

var _ SnapshotStore = (*MemorySnapshots)(nil)

// MemorySnapshots keeps snapshots in process memory.
type MemorySnapshots struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{data: make(map[string][]byte)}
}

func (m *MemorySnapshots) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.data[key]), nil
}

func (m *MemorySnapshots) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(data)
	return nil
}

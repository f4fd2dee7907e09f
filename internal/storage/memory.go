package storage

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/terraform"
)

// MemoryStore keeps overlays for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	overlays map[mgl64.Vec3]*terraform.Overlay
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overlays: make(map[mgl64.Vec3]*terraform.Overlay)}
}

func (m *MemoryStore) Load(key mgl64.Vec3) (*terraform.Overlay, bool, error) {
	m.mu.RLock()
	o, ok := m.overlays[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return o.Clone(), true, nil
}

func (m *MemoryStore) Save(key mgl64.Vec3, overlay *terraform.Overlay) error {
	m.mu.Lock()
	m.overlays[key] = overlay.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(key mgl64.Vec3) error {
	m.mu.Lock()
	delete(m.overlays, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ForEach(fn func(key mgl64.Vec3, overlay *terraform.Overlay) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, o := range m.overlays {
		if !fn(key, o.Clone()) {
			break
		}
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.overlays)
}

func (m *MemoryStore) Close() error {
	return nil
}

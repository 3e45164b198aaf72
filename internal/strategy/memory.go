package strategy

import (
	"sync"

	"github.com/hanpama/computed/internal/host"
)

type memoryEntry[R any] struct {
	entity host.Entity
	result R
}

// Memory remembers the last raw change result per entity. Entries are keyed
// by entity identity and removed explicitly.
type Memory[R any] struct {
	mu      sync.Mutex
	entries map[host.Key]memoryEntry[R]
	order   []host.Key
}

func NewMemory[R any]() *Memory[R] {
	return &Memory[R]{entries: make(map[host.Key]memoryEntry[R])}
}

func (m *Memory[R]) Get(k host.Key) (R, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	return e.result, ok
}

func (m *Memory[R]) Put(e host.Entity, r R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := e.Key()
	if _, ok := m.entries[k]; !ok {
		m.order = append(m.order, k)
	}
	m.entries[k] = memoryEntry[R]{entity: e, result: r}
}

func (m *Memory[R]) Evict(k host.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[k]; !ok {
		return
	}
	delete(m.entries, k)
	for i, o := range m.order {
		if o == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Entities returns the remembered entities in insertion order.
func (m *Memory[R]) Entities() []host.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]host.Entity, len(m.order))
	for i, k := range m.order {
		out[i] = m.entries[k].entity
	}
	return out
}

func (m *Memory[R]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory[R]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[host.Key]memoryEntry[R])
	m.order = nil
}

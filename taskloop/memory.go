package taskloop

import (
	"encoding/json"
	"strings"
	"sync"
)

// Memory is the conversational-state store a task runs against. Keys are
// case-insensitive and setting a nil value deletes the key.
type Memory interface {
	Get(key string) any
	Set(key string, value any)
	Has(key string) bool
}

// Keys the task manager owns in Memory.
const (
	InTaskKey      = "__in_task__"
	TaskHistoryKey = "__task_history__"
)

// VolatileMemory is an in-process Memory backed by a map.
type VolatileMemory struct {
	values map[string]any
	mu     sync.RWMutex
}

// NewVolatileMemory creates a VolatileMemory seeded with initial. Keys are
// lower-cased and nil values are skipped.
func NewVolatileMemory(initial map[string]any) *VolatileMemory {
	m := &VolatileMemory{values: make(map[string]any, len(initial))}
	for k, v := range initial {
		m.Set(k, v)
	}
	return m
}

func (m *VolatileMemory) Get(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[strings.ToLower(key)]
}

func (m *VolatileMemory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == nil {
		delete(m.values, strings.ToLower(key))
		return
	}
	m.values[strings.ToLower(key)] = value
}

func (m *VolatileMemory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[strings.ToLower(key)]
	return ok
}

// Delete removes key.
func (m *VolatileMemory) Delete(key string) {
	m.Set(key, nil)
}

// Keys returns the stored keys in no particular order.
func (m *VolatileMemory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a shallow copy of the stored values.
func (m *VolatileMemory) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the snapshot as a JSON object.
func (m *VolatileMemory) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryBackend keeps entries in process memory. It backs tests and the
// "memory" storage mode; nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
	writes  atomic.Int64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (m *MemoryBackend) Initialize(ctx context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }

func (m *MemoryBackend) Health(ctx context.Context) error { return ctx.Err() }

// Writes returns how many mutating calls succeeded.
func (m *MemoryBackend) Writes() int64 { return m.writes.Load() }

func (m *MemoryBackend) Get(ctx context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, &ErrNotFound{Key: key}
	}
	return cloneEntry(e), nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value)
	m.writes.Add(1)
	return nil
}

func (m *MemoryBackend) setLocked(key string, value []byte) int64 {
	version := m.entries[key].Version + 1
	m.entries[key] = Entry{Key: key, Value: append([]byte(nil), value...), Version: version}
	return version
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	m.writes.Add(1)
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0)
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryBackend) CheckAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[key].Version != expectedVersion {
		return 0, ErrVersionConflict
	}
	version := m.setLocked(key, value)
	m.writes.Add(1)
	return version, nil
}

func (m *MemoryBackend) ApplyBatch(ctx context.Context, mutations []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mut := range mutations {
		if mut.Delete {
			delete(m.entries, mut.Key)
			continue
		}
		m.setLocked(mut.Key, mut.Value)
	}
	m.writes.Add(1)
	return nil
}

func cloneEntry(e Entry) Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}

package blob

import (
	"context"
	"sync"
	"sync/atomic"
)

// Memory keeps blobs in process. It counts calls so tests can assert which
// paths touched the store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	puts   atomic.Int64
	gets   atomic.Int64
	writes atomic.Int64
}

func NewMemory() *Memory {
	return &Memory{blobs: map[string][]byte{}}
}

func (m *Memory) Put(_ context.Context, key string, data []byte) (bool, error) {
	m.puts.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; ok {
		return false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	m.writes.Add(1)
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.gets.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, notFound(key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// Gets is the number of Get calls so far.
func (m *Memory) Gets() int64 { return m.gets.Load() }

// Writes is the number of Puts that stored new bytes.
func (m *Memory) Writes() int64 { return m.writes.Load() }

// Len is the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Delete drops a blob. Content-addressed stores never delete in normal
// operation; tests use it to simulate lost blobs.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
}

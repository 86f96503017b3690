package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record *WindowRecord
	timer  *time.Timer
	gen    uint64
}

// MemoryStore keeps records in a map and schedules their deletion when they
// are written. State is local to the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	gen     uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*WindowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		return e.record.clone(), nil
	}
	return nil, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, record *WindowRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(key, record.clone(), ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.remove(key)
	return nil
}

// Update runs fn under the store lock
func (m *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) (*WindowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *WindowRecord
	if e, ok := m.entries[key]; ok {
		current = e.record.clone()
	}

	next, ttl := fn(current)
	if next == nil {
		return current, nil
	}

	m.put(key, next.clone(), ttl)
	return next, nil
}

// Stops every pending expiry timer and drops all records
func (m *MemoryStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		m.remove(key)
	}
}

// caller holds m.mu
func (m *MemoryStore) put(key string, record *WindowRecord, ttl time.Duration) {
	if e, ok := m.entries[key]; ok {
		e.timer.Stop()
	}

	m.gen++
	gen := m.gen
	m.entries[key] = &memoryEntry{
		record: record,
		gen:    gen,
		timer:  time.AfterFunc(ttl, func() { m.expire(key, gen) }),
	}
}

// caller holds m.mu
func (m *MemoryStore) remove(key string) {
	if e, ok := m.entries[key]; ok {
		e.timer.Stop()
		delete(m.entries, key)
	}
}

// expire drops key only if it was not rewritten after the timer was armed
func (m *MemoryStore) expire(key string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.gen == gen {
		delete(m.entries, key)
	}
}

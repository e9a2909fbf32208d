package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Record is one cached chunk payload
type Record struct {
	Payload   []byte
	FetchedAt time.Time
}

// Store is the persistent key/value backend of the chunk cache.
// Keys already carry the schema-version prefix.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
	Clear(ctx context.Context) error
	// DeleteWithoutPrefix removes entries whose key does not start with prefix
	DeleteWithoutPrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

// Get retrieves a record
func (m *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	return rec, ok, nil
}

// Put stores a record, keeping its own copy of the payload
func (m *MemoryStore) Put(_ context.Context, key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Payload = append([]byte(nil), rec.Payload...)
	m.data[key] = rec
	return nil
}

// Clear removes all records
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]Record)
	return nil
}

// DeleteWithoutPrefix removes records from other schema versions
func (m *MemoryStore) DeleteWithoutPrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if !strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of records
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}

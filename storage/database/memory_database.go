package database

import (
	"sync"

	"github.com/hanzoai/compute/common"
)

// MemDatabase is an in-memory Database used by tests and by ExecuteBytes-style
// short-lived callers that never need to persist to disk.
type MemDatabase struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDatabase returns an empty in-memory store.
func NewMemDatabase() *MemDatabase {
	return &MemDatabase{data: make(map[string][]byte)}
}

func (m *MemDatabase) Type() DBType { return MemDB }

func (m *MemDatabase) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemDatabase) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemDatabase) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, common.New(common.KindNotFound, "key not found")
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemDatabase) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemDatabase) Close() {}

func (m *MemDatabase) NewBatch() Batch {
	return &memBatch{db: m}
}

type memEntry struct {
	key, value []byte
	del        bool
}

type memBatch struct {
	db      *MemDatabase
	entries []memEntry
	size    int
}

func (b *memBatch) Put(key, value []byte) error {
	b.entries = append(b.entries, memEntry{key: key, value: value})
	b.size += len(value)
	return nil
}

func (b *memBatch) Write() error {
	for _, e := range b.entries {
		if e.del {
			_ = b.db.Delete(e.key)
			continue
		}
		if err := b.db.Put(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBatch) ValueSize() int { return b.size }

func (b *memBatch) Reset() {
	b.entries = nil
	b.size = 0
}

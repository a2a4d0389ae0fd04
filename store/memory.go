package store

import (
	"context"
	"sync"

	"github.com/mostlygeek/genstudio/schema"
)

// MemoryStore keeps documents in process memory. Documents are stored in
// their serialized form so reads behave like the persistent backends.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Record)}
}

func (m *MemoryStore) EnsureSchema(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, name string) (schema.Configuration, error) {
	m.mu.RLock()
	rec, ok := m.docs[name]
	m.mu.RUnlock()
	if !ok {
		return schema.Configuration{}, schema.ErrNotFound
	}
	return schema.UnmarshalDocument(rec.Document)
}

func (m *MemoryStore) List(ctx context.Context) ([]schema.Configuration, error) {
	m.mu.RLock()
	docs := make(map[string][]byte, len(m.docs))
	for name, rec := range m.docs {
		docs[name] = rec.Document
	}
	m.mu.RUnlock()
	return decodeRecords(docs)
}

func (m *MemoryStore) Put(ctx context.Context, cfg schema.Configuration) (string, error) {
	rec, err := newRecord(cfg)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.docs[rec.Name] = rec
	m.mu.Unlock()
	return rec.ID, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

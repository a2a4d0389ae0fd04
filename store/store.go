// Package store persists Configuration documents keyed by name.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mostlygeek/genstudio/schema"
)

// Store is a document collection of configurations.
type Store interface {
	// EnsureSchema creates the backing collection when it is missing. It is
	// idempotent.
	EnsureSchema(ctx context.Context) error
	// Get returns the configuration stored under name or schema.ErrNotFound.
	Get(ctx context.Context, name string) (schema.Configuration, error)
	// List returns every stored configuration sorted by name.
	List(ctx context.Context) ([]schema.Configuration, error)
	// Put creates or re-creates the document for cfg.Name and returns the
	// new document id.
	Put(ctx context.Context, cfg schema.Configuration) (string, error)
	Close() error
}

// Record is the persisted row shape shared by the backends.
type Record struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Document []byte `json:"document"`
}

func newRecord(cfg schema.Configuration) (Record, error) {
	data, err := cfg.MarshalDocument()
	if err != nil {
		return Record{}, err
	}
	return Record{ID: uuid.NewString(), Name: cfg.Name, Document: data}, nil
}

func decodeRecords(docs map[string][]byte) ([]schema.Configuration, error) {
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]schema.Configuration, 0, len(names))
	for _, name := range names {
		cfg, err := schema.UnmarshalDocument(docs[name])
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Opener creates a backend store. It is called lazily on first use.
type Opener func(ctx context.Context) (Store, error)

// Shared wraps a lazily opened store so that one handle is reused across
// requests and the schema is ensured before the first query. Failures to
// open or ensure are reported as schema.ErrBackendUnavailable and retried
// on the next call.
type Shared struct {
	open Opener

	mu    sync.Mutex
	store Store
}

func NewShared(open Opener) *Shared {
	return &Shared{open: open}
}

func (s *Shared) handle(ctx context.Context) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		return s.store, nil
	}

	st, err := s.open(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, unavailable(err)
	}
	s.store = st
	return st, nil
}

func unavailable(err error) error {
	if errors.Is(err, schema.ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", schema.ErrBackendUnavailable, err)
}

func (s *Shared) EnsureSchema(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

func (s *Shared) Get(ctx context.Context, name string) (schema.Configuration, error) {
	st, err := s.handle(ctx)
	if err != nil {
		return schema.Configuration{}, err
	}
	cfg, err := st.Get(ctx, name)
	if err != nil && !errors.Is(err, schema.ErrNotFound) {
		return schema.Configuration{}, unavailable(err)
	}
	return cfg, err
}

func (s *Shared) List(ctx context.Context) ([]schema.Configuration, error) {
	st, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	configs, err := st.List(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return configs, nil
}

func (s *Shared) Put(ctx context.Context, cfg schema.Configuration) (string, error) {
	st, err := s.handle(ctx)
	if err != nil {
		return "", err
	}
	id, err := st.Put(ctx, cfg)
	if err != nil {
		return "", unavailable(err)
	}
	return id, nil
}

func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

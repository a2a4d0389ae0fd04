package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mostlygeek/genstudio/schema"
	"github.com/supabase-community/supabase-go"
)

// SupabaseStore keeps documents in a Supabase table reached through
// PostgREST. The table must already exist; EnsureSchema only verifies it.
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

type supabaseRow struct {
	Name     string          `json:"name"`
	ID       string          `json:"id"`
	Document json.RawMessage `json:"document"`
}

func OpenSupabase(url, key, collection string) (*SupabaseStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open supabase: %w", err)
	}
	return &SupabaseStore{client: client, table: collection}, nil
}

func (s *SupabaseStore) EnsureSchema(ctx context.Context) error {
	if _, _, err := s.client.From(s.table).Select("name", "exact", true).Execute(); err != nil {
		return fmt.Errorf("table %s is not reachable: %w", s.table, err)
	}
	return nil
}

func (s *SupabaseStore) Get(ctx context.Context, name string) (schema.Configuration, error) {
	data, _, err := s.client.From(s.table).Select("*", "exact", false).Eq("name", name).Execute()
	if err != nil {
		return schema.Configuration{}, fmt.Errorf("get configuration %q: %w", name, err)
	}
	var rows []supabaseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return schema.Configuration{}, fmt.Errorf("decode rows: %w", err)
	}
	if len(rows) == 0 {
		return schema.Configuration{}, schema.ErrNotFound
	}
	return schema.UnmarshalDocument(rows[0].Document)
}

func (s *SupabaseStore) List(ctx context.Context) ([]schema.Configuration, error) {
	data, _, err := s.client.From(s.table).Select("*", "exact", false).Execute()
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	var rows []supabaseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	docs := make(map[string][]byte, len(rows))
	for _, row := range rows {
		docs[row.Name] = row.Document
	}
	return decodeRecords(docs)
}

func (s *SupabaseStore) Put(ctx context.Context, cfg schema.Configuration) (string, error) {
	rec, err := newRecord(cfg)
	if err != nil {
		return "", err
	}
	row := supabaseRow{Name: rec.Name, ID: rec.ID, Document: rec.Document}
	if _, _, err := s.client.From(s.table).Insert(row, true, "name", "", "").Execute(); err != nil {
		return "", fmt.Errorf("put configuration %q: %w", rec.Name, err)
	}
	return rec.ID, nil
}

func (s *SupabaseStore) Close() error {
	return nil
}

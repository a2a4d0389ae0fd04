package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mostlygeek/genstudio/schema"
)

// PostgresStore keeps one JSONB document per configuration.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn, collection string) (*PostgresStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{collection}.Sanitize(),
	}, nil
}

func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       TEXT PRIMARY KEY,
			id         TEXT NOT NULL,
			document   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, p.table))
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", p.table, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, name string) (schema.Configuration, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT document FROM %s WHERE name = $1`, p.table), name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Configuration{}, schema.ErrNotFound
	}
	if err != nil {
		return schema.Configuration{}, fmt.Errorf("get configuration %q: %w", name, err)
	}
	return schema.UnmarshalDocument(data)
}

func (p *PostgresStore) List(ctx context.Context) ([]schema.Configuration, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT name, document FROM %s`, p.table))
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()

	docs := make(map[string][]byte)
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}
		docs[name] = data
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return decodeRecords(docs)
}

func (p *PostgresStore) Put(ctx context.Context, cfg schema.Configuration) (string, error) {
	rec, err := newRecord(cfg)
	if err != nil {
		return "", err
	}
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, id, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			id = EXCLUDED.id,
			document = EXCLUDED.document,
			updated_at = NOW()`, p.table), rec.Name, rec.ID, rec.Document)
	if err != nil {
		return "", fmt.Errorf("put configuration %q: %w", rec.Name, err)
	}
	return rec.ID, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

package store

import (
	"context"
	"fmt"
	"strings"
)

// DefaultCollection is the table, hash or collection name used when none is configured.
const DefaultCollection = "configurations"

// Options selects and configures a backend.
type Options struct {
	Driver     string
	DSN        string
	Addr       string
	Password   string
	DB         int
	URL        string
	Key        string
	Collection string
}

// NewOpener returns an Opener for the configured driver. The connection is
// not attempted until the opener is called.
func NewOpener(opts Options) (Opener, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "memory":
		mem := NewMemoryStore()
		return func(context.Context) (Store, error) { return mem, nil }, nil
	case "postgres", "postgresql", "pgx":
		if opts.DSN == "" {
			return nil, fmt.Errorf("store.dsn is required for the postgres driver")
		}
		return func(ctx context.Context) (Store, error) {
			return OpenPostgres(ctx, opts.DSN, opts.Collection)
		}, nil
	case "redis":
		if opts.Addr == "" {
			return nil, fmt.Errorf("store.addr is required for the redis driver")
		}
		return func(ctx context.Context) (Store, error) {
			return OpenRedis(ctx, opts.Addr, opts.Password, opts.DB, opts.Collection)
		}, nil
	case "supabase":
		if opts.URL == "" || opts.Key == "" {
			return nil, fmt.Errorf("store.url and store.key are required for the supabase driver")
		}
		return func(context.Context) (Store, error) {
			return OpenSupabase(opts.URL, opts.Key, opts.Collection)
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

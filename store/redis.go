package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mostlygeek/genstudio/schema"
	"github.com/redis/go-redis/v9"
)

const redisSchemaVersion = "1"

// RedisStore keeps documents in a hash keyed by configuration name, with
// document ids in a sibling hash.
type RedisStore struct {
	client     *redis.Client
	collection string
}

// NewRedisStore wraps an existing client. The store owns the client and
// closes it on Close.
func NewRedisStore(client *redis.Client, collection string) *RedisStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &RedisStore{client: client, collection: collection}
}

// OpenRedis connects to addr and verifies the connection with PING.
func OpenRedis(ctx context.Context, addr, password string, db int, collection string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStore(client, collection), nil
}

func (r *RedisStore) documentsKey() string { return r.collection + ":documents" }
func (r *RedisStore) idsKey() string       { return r.collection + ":ids" }
func (r *RedisStore) schemaKey() string    { return r.collection + ":schema" }

// EnsureSchema marks the collection as initialized. Redis has no schema to
// create, so this only records the layout version.
func (r *RedisStore) EnsureSchema(ctx context.Context) error {
	if err := r.client.SetNX(ctx, r.schemaKey(), redisSchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("ensure collection %s: %w", r.collection, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, name string) (schema.Configuration, error) {
	data, err := r.client.HGet(ctx, r.documentsKey(), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return schema.Configuration{}, schema.ErrNotFound
	}
	if err != nil {
		return schema.Configuration{}, fmt.Errorf("get configuration %q: %w", name, err)
	}
	return schema.UnmarshalDocument(data)
}

func (r *RedisStore) List(ctx context.Context) ([]schema.Configuration, error) {
	all, err := r.client.HGetAll(ctx, r.documentsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	docs := make(map[string][]byte, len(all))
	for name, data := range all {
		docs[name] = []byte(data)
	}
	return decodeRecords(docs)
}

func (r *RedisStore) Put(ctx context.Context, cfg schema.Configuration) (string, error) {
	rec, err := newRecord(cfg)
	if err != nil {
		return "", err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.documentsKey(), rec.Name, rec.Document)
	pipe.HSet(ctx, r.idsKey(), rec.Name, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("put configuration %q: %w", rec.Name, err)
	}
	return rec.ID, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

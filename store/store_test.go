package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(name string) schema.Configuration {
	return schema.Configuration{
		Name:       name,
		Type:       schema.KindFal,
		EndpointID: "fal-ai/flux/schnell",
		Inputs: []schema.FieldDescriptor{
			{Key: "prompt", Component: schema.ComponentPrompt, Type: schema.TypeString, Show: true, Required: true},
			{Key: "num_images", Component: schema.ComponentNumber, Type: schema.TypeInteger, Show: false, Value: 1},
			{Key: "enable_safety_checker", Component: schema.ComponentCheckbox, Type: schema.TypeBoolean, Show: false, Value: false},
		},
		Outputs: []schema.FieldDescriptor{
			{Key: "images", Type: schema.TypeArray, TypeItem: "string", FormatItem: "uri"},
			{Key: "seed", Type: schema.TypeInteger},
		},
	}
}

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisStore(client, "test")
	t.Cleanup(func() { st.Close() })
	return st, mr
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.EnsureSchema(ctx))
	require.NoError(t, st.EnsureSchema(ctx))

	_, err := st.Get(ctx, "missing")
	assert.ErrorIs(t, err, schema.ErrNotFound)

	original := testConfig("flux-schnell")
	id, err := st.Put(ctx, original)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := st.Get(ctx, "flux-schnell")
	require.NoError(t, err)

	want, err := original.MarshalDocument()
	require.NoError(t, err)
	have, err := got.MarshalDocument()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(have))

	// re-creation replaces the document and issues a new id
	updated := testConfig("flux-schnell")
	updated.Description = "updated"
	id2, err := st.Put(ctx, updated)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	got, err = st.Get(ctx, "flux-schnell")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)

	_, err = st.Put(ctx, testConfig("a-first"))
	require.NoError(t, err)

	all, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a-first", all[0].Name)
	assert.Equal(t, "flux-schnell", all[1].Name)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	st, mr := newTestRedisStore(t)
	exerciseStore(t, st)

	assert.True(t, mr.Exists("test:schema"))
	assert.True(t, mr.Exists("test:documents"))
	assert.True(t, mr.Exists("test:ids"))
}

func TestRedisStore_Unreachable(t *testing.T) {
	st, mr := newTestRedisStore(t)
	mr.Close()

	_, err := st.Get(context.Background(), "anything")
	require.Error(t, err)
	assert.False(t, errors.Is(err, schema.ErrNotFound))
}

type failingStore struct {
	*MemoryStore
	ensureErr error
	getErr    error
	ensures   int
}

func (f *failingStore) EnsureSchema(ctx context.Context) error {
	f.ensures++
	return f.ensureErr
}

func (f *failingStore) Get(ctx context.Context, name string) (schema.Configuration, error) {
	if f.getErr != nil {
		return schema.Configuration{}, f.getErr
	}
	return f.MemoryStore.Get(ctx, name)
}

func TestShared_LazyOpenAndEnsureOnce(t *testing.T) {
	ctx := context.Background()
	backing := &failingStore{MemoryStore: NewMemoryStore()}
	opens := 0
	shared := NewShared(func(context.Context) (Store, error) {
		opens++
		return backing, nil
	})

	assert.Equal(t, 0, opens)

	_, err := shared.Get(ctx, "missing")
	assert.ErrorIs(t, err, schema.ErrNotFound)

	_, err = shared.Put(ctx, testConfig("one"))
	require.NoError(t, err)
	_, err = shared.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, backing.ensures)
}

func TestShared_BackendUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("open fails", func(t *testing.T) {
		attempts := 0
		shared := NewShared(func(context.Context) (Store, error) {
			attempts++
			return nil, errors.New("connection refused")
		})
		_, err := shared.Get(ctx, "x")
		assert.ErrorIs(t, err, schema.ErrBackendUnavailable)
		_, err = shared.List(ctx)
		assert.ErrorIs(t, err, schema.ErrBackendUnavailable)
		assert.Equal(t, 2, attempts)
	})

	t.Run("ensure fails", func(t *testing.T) {
		backing := &failingStore{MemoryStore: NewMemoryStore(), ensureErr: errors.New("permission denied")}
		shared := NewShared(func(context.Context) (Store, error) { return backing, nil })
		_, err := shared.Put(ctx, testConfig("x"))
		assert.ErrorIs(t, err, schema.ErrBackendUnavailable)
	})

	t.Run("query fails", func(t *testing.T) {
		backing := &failingStore{MemoryStore: NewMemoryStore(), getErr: errors.New("broken pipe")}
		shared := NewShared(func(context.Context) (Store, error) { return backing, nil })
		_, err := shared.Get(ctx, "x")
		assert.ErrorIs(t, err, schema.ErrBackendUnavailable)
	})
}

func TestNewOpener(t *testing.T) {
	open, err := NewOpener(Options{})
	require.NoError(t, err)
	st, err := open(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	_, err = NewOpener(Options{Driver: "postgres"})
	assert.Error(t, err)
	_, err = NewOpener(Options{Driver: "redis"})
	assert.Error(t, err)
	_, err = NewOpener(Options{Driver: "supabase", URL: "https://x.supabase.co"})
	assert.Error(t, err)
	_, err = NewOpener(Options{Driver: "mongo"})
	assert.Error(t, err)
}

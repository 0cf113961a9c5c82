package stores_test

import (
	"context"
	"testing"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/effects/config"
	"github.com/on-the-ground/effect_stack/effects/log"
	"github.com/on-the-ground/effect_stack/effects/state"
	"github.com/on-the-ground/effect_stack/effects/state/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type User struct {
	ID   string
	Name string
}

func (u *User) Equals(other any) bool {
	if ou, ok := other.(*User); ok {
		return u.ID == ou.ID && u.Name == ou.Name
	}
	return false
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"user": {
				Name: "user",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
}

func TestMemDB_BasicOperations(t *testing.T) {
	store, err := stores.NewMemDB("user", "id", schema())
	require.NoError(t, err)

	alice := &User{ID: "u1", Name: "Alice"}
	bob := &User{ID: "u1", Name: "Bob"}
	aliceAgain := &User{ID: "u1", Name: "Alice"}

	_, ok := store.Load("u1")
	assert.False(t, ok)

	store.Store("u1", alice)
	val, ok := store.Load("u1")
	assert.True(t, ok)
	assert.Equal(t, alice, val)

	assert.True(t, store.CompareAndSwap("u1", aliceAgain, bob))
	assert.False(t, store.CompareAndSwap("u1", alice, aliceAgain))

	assert.False(t, store.CompareAndDelete("u1", alice))
	assert.True(t, store.CompareAndDelete("u1", bob))

	_, ok = store.Load("u1")
	assert.False(t, ok)

	store.Store("u1", alice)
	store.Delete("u1")
	store.Delete("u1")
	_, ok = store.Load("u1")
	assert.False(t, ok)
}

func TestMemDB_SchemaErrorPanics(t *testing.T) {
	store, err := stores.NewMemDB("missing", "id", schema())
	require.NoError(t, err)

	require.Panics(t, func() { store.Load("u1") })
}

func TestMemDB_InvalidSchema(t *testing.T) {
	_, err := stores.NewMemDB("user", "id", &memdb.DBSchema{})
	require.Error(t, err)
}

func TestMemDB_SchemaErrorFailsTheOperation(t *testing.T) {
	store, err := stores.NewMemDB("missing", "id", schema())
	require.NoError(t, err)
	h, teardown := state.WithEffectHandler(context.Background(), config.Default().State, store.Repo(), state.Options{})
	defer teardown()

	_, err = effects.NewStack(h).Run(context.Background(), func(ctx context.Context) (any, error) {
		return state.EffectLoad[*User](ctx, "u1")
	})
	require.Error(t, err)
}

func TestRistretto_SetGetDelete(t *testing.T) {
	cache, err := stores.NewRistretto(config.Default().Memo)
	require.NoError(t, err)
	defer cache.Close()

	cache.Set("k", 1)
	v, ok := cache.Get("k")
	require.True(t, ok)
	require.Equal(t, 1, v)

	cache.Delete("k")
	_, ok = cache.Get("k")
	require.False(t, ok)
}

func TestRistretto_InvalidConfig(t *testing.T) {
	_, err := stores.NewRistretto(config.Memo{})
	require.Error(t, err)
}

func TestTiers_CacheDelegatesToDatabase(t *testing.T) {
	db, err := stores.NewMemDB("user", "id", schema())
	require.NoError(t, err)
	cache, err := stores.NewRistretto(config.Default().Memo)
	require.NoError(t, err)
	defer cache.Close()

	cfg := config.Default().State
	logger := log.NewTestLogger()
	dbHandler, endOfDB := state.WithEffectHandler(context.Background(), cfg, db.Repo(), state.Options{Logger: logger})
	defer endOfDB()
	cacheHandler, endOfCache := state.WithEffectHandler(context.Background(), cfg, cache.Repo(), state.Options{
		Delegation: true,
		Logger:     logger,
	})
	defer endOfCache()

	alice := &User{ID: "u1", Name: "Alice"}
	db.Store("u1", alice)

	_, err = effects.NewStack(dbHandler, cacheHandler).Run(context.Background(), func(ctx context.Context) (any, error) {
		v, err := state.EffectLoad[*User](ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, alice, v)

		_, err = state.EffectLoad[*User](ctx, "u2")
		require.ErrorIs(t, err, state.ErrNoSuchKey)
		return nil, nil
	})
	require.NoError(t, err)

	cached, ok := cache.Get("u1")
	require.True(t, ok)
	require.Equal(t, alice, cached)
}

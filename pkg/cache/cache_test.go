package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryDefaultsToMemory(t *testing.T) {
	store, err := Factory("", Options{})
	require.NoError(t, err)
	defer store.Close()
	_, isMemory := store.(*memoryStore)
	assert.True(t, isMemory)
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := Factory(Backend("carrier-pigeon"), Options{})
	assert.Error(t, err)
}

func TestFactoryOpensBbolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Factory(BackendBbolt, Options{BboltPath: path})
	require.NoError(t, err)
	defer store.Close()
	_, isBbolt := store.(*bboltStore)
	assert.True(t, isBbolt)
}

func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "k", []byte("v1"), time.Hour))
	value, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, store.Set(ctx, "k", []byte("v2"), time.Hour))
	value, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), value)

	require.NoError(t, store.Delete(ctx, "k"))
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "no-ttl", []byte("forever"), 0))
	value, found, err = store.Get(ctx, "no-ttl")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("forever"), value)
}

func TestMemoryStoreSatisfiesContract(t *testing.T) {
	store := newMemoryStore(16)
	defer store.Close()
	runStoreContract(t, store)
}

func TestBboltStoreSatisfiesContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := newBboltStore(path)
	require.NoError(t, err)
	defer store.Close()
	runStoreContract(t, store)
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	store := newMemoryStore(16)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "entry must expire after its TTL elapses")
}

func TestBboltStoreExpiresEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := newBboltStore(path)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "entry must expire after its TTL elapses")
}

func TestBboltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	store, err := newBboltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "k", []byte("durable"), time.Hour))
	require.NoError(t, store.Close())

	reopened, err := newBboltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, found, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("durable"), value)
}

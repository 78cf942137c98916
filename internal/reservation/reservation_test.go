package reservation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FirstClaimWins(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore("")
	require.NoError(t, err)

	ok, err := store.Reserve(ctx, "s1", "e1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "s1", "e1", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// ids are scoped per store
	ok, err = store.Reserve(ctx, "s2", "e1", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Release(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore("")
	require.NoError(t, err)

	ok, _ := store.Reserve(ctx, "s1", "e1", 0)
	require.True(t, ok)
	require.NoError(t, store.Release(ctx, "s1", "e1"))

	ok, _ = store.Reserve(ctx, "s1", "e1", 0)
	assert.True(t, ok)

	// releasing an unknown claim is fine
	assert.NoError(t, store.Release(ctx, "s1", "missing"))
}

func TestMemoryStore_ExpiredClaimCanBeRetaken(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore("")
	require.NoError(t, err)

	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ok, _ := store.Reserve(ctx, "s1", "e1", time.Minute)
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = store.Reserve(ctx, "s1", "e1", time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = store.Reserve(ctx, "s1", "e1", time.Minute)
	assert.True(t, ok)
}

func TestMemoryStore_ConcurrentReserve(t *testing.T) {
	store, err := NewMemoryStore("")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Reserve(context.Background(), "s1", "race", 0)
			if err == nil && ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestMemoryStore_SnapshotSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reservations.json")

	store, err := NewMemoryStore(path)
	require.NoError(t, err)
	ok, err := store.Reserve(ctx, "s1", "e1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Close())

	reopened, err := NewMemoryStore(path)
	require.NoError(t, err)
	ok, err = reopened.Reserve(ctx, "s1", "e1", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reservations.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))

	_, err := NewMemoryStore(path)
	assert.Error(t, err)
}

func TestRedisStore_Reserve(t *testing.T) {
	addr := os.Getenv("PRICELAB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PRICELAB_TEST_REDIS_ADDR not set")
	}

	store, err := NewRedisStore(addr, "", 0)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	id := fmt.Sprintf("e-%d", time.Now().UnixNano())

	ok, err := store.Reserve(ctx, "s1", id, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "s1", id, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, "s1", id))
	ok, err = store.Reserve(ctx, "s1", id, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	_ = store.Release(ctx, "s1", id)
}

func TestPostgresStore_Reserve(t *testing.T) {
	conn := os.Getenv("PRICELAB_TEST_POSTGRES")
	if conn == "" {
		t.Skip("PRICELAB_TEST_POSTGRES not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, conn)
	require.NoError(t, err)
	defer pool.Close()

	store := NewPostgresStore(pool)
	id := fmt.Sprintf("e-%d", time.Now().UnixNano())

	ok, err := store.Reserve(ctx, "s1", id, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	// expired claim is taken over
	ok, err = store.Reserve(ctx, "s1", id, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "s1", id, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.CleanupExpired(ctx)
	assert.NoError(t, err)
	assert.NoError(t, store.Release(ctx, "s1", id))
}

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/observability"
)

func newTestMemoryCache(t *testing.T, maxEntries int) *memoryCache {
	t.Helper()
	c := newMemoryCache(&config.CacheConfig{MaxEntries: maxEntries}, observability.NopLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := newTestMemoryCache(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))

	value, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), value)
}

func TestMemoryCache_GetMiss(t *testing.T) {
	c := newTestMemoryCache(t, 100)

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := newTestMemoryCache(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 20*time.Millisecond))

	_, err := c.Get(ctx, "short")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss, "expired entry should read as a miss")
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c := newTestMemoryCache(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))

	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestMemoryCache_Overwrite(t *testing.T) {
	c := newTestMemoryCache(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("old"), time.Minute))
	require.NoError(t, c.Set(ctx, "key", []byte("new"), time.Minute))

	value, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := newTestMemoryCache(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "key"))

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Deleting a missing key is not an error.
	assert.NoError(t, c.Delete(ctx, "missing"))
}

func TestMemoryCache_Exists(t *testing.T) {
	c := newTestMemoryCache(t, 100)
	ctx := context.Background()

	exists, err := c.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))

	exists, err = c.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := newTestMemoryCache(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("key%d", i), []byte("v"), time.Minute))
	}

	// Touch key1 so key2 becomes the least recently used.
	_, err := c.Get(ctx, "key1")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "key4", []byte("v"), time.Minute))

	_, err = c.Get(ctx, "key2")
	assert.ErrorIs(t, err, ErrCacheMiss, "least recently used entry should be evicted")

	for _, key := range []string{"key1", "key3", "key4"} {
		_, err = c.Get(ctx, key)
		assert.NoError(t, err, "%s should survive eviction", key)
	}
}

func TestMemoryCache_Cleanup(t *testing.T) {
	c := newTestMemoryCache(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "expired", []byte("v"), 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "alive", []byte("v"), time.Minute))

	time.Sleep(20 * time.Millisecond)
	c.cleanup()

	c.mu.Lock()
	_, hasExpired := c.items["expired"]
	_, hasAlive := c.items["alive"]
	c.mu.Unlock()

	assert.False(t, hasExpired)
	assert.True(t, hasAlive)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestMemoryCache(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))

	_, _ = c.Get(ctx, "key")
	_, _ = c.Get(ctx, "key")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
}

func TestMemoryCache_Close(t *testing.T) {
	c := newMemoryCache(&config.CacheConfig{}, observability.NopLogger())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))
	require.NoError(t, c.Close())

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Close is idempotent.
	assert.NoError(t, c.Close())
}

func TestMemoryCache_Concurrency(t *testing.T) {
	c := newTestMemoryCache(t, 50)
	ctx := context.Background()

	done := make(chan struct{})
	for g := 0; g < 10; g++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("key-%d-%d", n, i%20)
				_ = c.Set(ctx, key, []byte("v"), time.Minute)
				_, _ = c.Get(ctx, key)
				_, _ = c.Exists(ctx, key)
			}
		}(g)
	}
	for g := 0; g < 10; g++ {
		<-done
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, int64(50))
}

package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credits-checkout/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type pricing struct {
	IDs []string `json:"ids"`
}

func TestStorageCacheFreshThenExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := cache.NewMemoryStore()
	c := cache.New[pricing](store, cache.KeyPricing(), 5*time.Minute, cache.WithClock(clock.Now))

	c.Set(ctx, pricing{IDs: []string{"starter", "pro"}})

	got, ok := c.Get(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"starter", "pro"}, got.IDs)

	clock.Advance(5 * time.Minute)
	_, ok = c.Get(ctx)
	require.True(t, ok, "entry exactly at ttl is still fresh")

	clock.Advance(time.Millisecond)
	_, ok = c.Get(ctx)
	require.False(t, ok)
	require.Equal(t, 0, store.Len(), "stale entry removed")
}

func TestStorageCacheMalformedEntryRemoved(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "k", "{not json"))

	c := cache.New[int](store, "k", time.Minute)
	_, ok := c.Get(ctx)
	require.False(t, ok)

	_, exists, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStorageCacheSwallowsWriteFailures(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	store.FailWrites(true)

	c := cache.New[string](store, "k", time.Minute)
	require.NotPanics(t, func() { c.Set(ctx, "v") })

	_, ok := c.Get(ctx)
	require.False(t, ok)
}

func TestStorageCacheKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	a := cache.New[string](store, cache.KeyScoped("alice", "prefs"), time.Minute)
	b := cache.New[string](store, cache.KeyScoped("bob", "prefs"), time.Minute)

	a.Set(ctx, "dark")
	b.Set(ctx, "light")
	a.Clear(ctx)

	_, ok := a.Get(ctx)
	require.False(t, ok)
	v, ok := b.Get(ctx)
	require.True(t, ok)
	require.Equal(t, "light", v)
}

func TestStorageCacheReadHook(t *testing.T) {
	ctx := context.Background()
	var hits, misses int
	c := cache.New[int](cache.NewMemoryStore(), "n", time.Minute, cache.WithReadHook(func(_ string, hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))

	_, _ = c.Get(ctx)
	c.Set(ctx, 7)
	_, _ = c.Get(ctx)
	require.Equal(t, 1, hits)
	require.Equal(t, 1, misses)
}

func TestStorageCacheRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := cache.NewRedisStore(client, "checkout")
	require.NoError(t, store.Ping(ctx))

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := cache.New[[]string](store, cache.KeyPricing(), time.Minute, cache.WithClock(clock.Now))
	c.Set(ctx, []string{"vip"})

	raw, err := mr.Get("checkout:pricing_data_cache")
	require.NoError(t, err)
	require.JSONEq(t, `{"value":["vip"],"timestamp":1700000000000}`, raw)

	got, ok := c.Get(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"vip"}, got)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get(ctx)
	require.False(t, ok)
	require.False(t, mr.Exists("checkout:pricing_data_cache"))
}

func TestStorageCacheRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	c := cache.New[string](cache.NewRedisStore(client, ""), "k", time.Minute)
	require.NotPanics(t, func() {
		c.Set(context.Background(), "v")
		c.Clear(context.Background())
	})
	_, ok := c.Get(context.Background())
	require.False(t, ok)
}

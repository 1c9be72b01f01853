package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stdlens/stdlens/internal/core"
)

func entryAt(key string, storedAt time.Time, ttl time.Duration) *core.CacheEntry {
	return &core.CacheEntry{
		Key:        key,
		StatusCode: 200,
		Body:       []byte(`{"results":[]}`),
		StoredAt:   storedAt,
		TTL:        ttl,
	}
}

func TestMemoryTTLBoundary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mem := NewMemory(0).WithClock(func() time.Time { return now })

	require.NoError(t, mem.Store(ctx, entryAt("GET /a", now, time.Minute)))

	now = now.Add(time.Minute - time.Nanosecond)
	got, err := mem.Lookup(ctx, "GET /a")
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(time.Nanosecond)
	got, err = mem.Lookup(ctx, "GET /a")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, mem.Len())
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	mem := NewMemory(2)

	require.NoError(t, mem.Store(ctx, entryAt("a", now, time.Hour)))
	require.NoError(t, mem.Store(ctx, entryAt("b", now, time.Hour)))

	hit, err := mem.Lookup(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, hit)

	require.NoError(t, mem.Store(ctx, entryAt("c", now, time.Hour)))
	require.Equal(t, 2, mem.Len())

	evicted, err := mem.Lookup(ctx, "b")
	require.NoError(t, err)
	require.Nil(t, evicted)

	kept, err := mem.Lookup(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(0)
	original := entryAt("k", time.Now(), time.Hour)
	require.NoError(t, mem.Store(ctx, original))

	original.Body[0] = 'X'
	got, err := mem.Lookup(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, byte('{'), got.Body[0])

	got.Body[0] = 'Y'
	again, err := mem.Lookup(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, byte('{'), again.Body[0])
}

func TestMemoryPurgeAndDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mem := NewMemory(0).WithClock(func() time.Time { return now })

	require.NoError(t, mem.Store(ctx, entryAt("short", now, time.Second)))
	require.NoError(t, mem.Store(ctx, entryAt("long", now, time.Hour)))
	require.NoError(t, mem.Store(ctx, entryAt("gone", now, time.Hour)))
	require.Error(t, mem.Store(ctx, &core.CacheEntry{}))

	require.NoError(t, mem.Delete(ctx, "gone"))
	require.NoError(t, mem.Delete(ctx, "never-stored"))

	now = now.Add(time.Minute)
	require.Equal(t, 1, mem.Purge())
	require.Equal(t, 1, mem.Len())
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(16)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Go(func() {
			key := string(rune('a' + i%20))
			for j := 0; j < 100; j++ {
				_ = mem.Store(ctx, entryAt(key, now, time.Hour))
				_, _ = mem.Lookup(ctx, key)
			}
		})
	}
	wg.Wait()
	require.LessOrEqual(t, mem.Len(), 16)
}

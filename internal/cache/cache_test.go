package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGetRoundTrip(t *testing.T) {
	c, err := New(Config{MaxEntries: 10, DefaultTTL: time.Minute})
	require.NoError(t, err)

	c.Set(context.Background(), "k1", "hello", 0)
	v, ok := c.Get(context.Background(), "k1")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestCache_TTLExpiry(t *testing.T) {
	c, err := New(Config{MaxEntries: 10})
	require.NoError(t, err)

	c.Set(context.Background(), "k1", "hello", 5*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	_, ok := c.Get(context.Background(), "k1")
	assert.False(t, ok, "entry should have expired")
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, err := New(Config{MaxEntries: 2})
	require.NoError(t, err)

	c.Set(context.Background(), "a", 1, time.Minute)
	c.Set(context.Background(), "b", 2, time.Minute)
	c.Set(context.Background(), "c", 3, time.Minute)

	_, ok := c.Get(context.Background(), "a")
	assert.False(t, ok, "oldest entry must be evicted once over capacity")
	assert.Equal(t, 2, c.Len())
}

func TestCache_GetOrSetCollapsesConcurrentMisses(t *testing.T) {
	c, err := New(Config{MaxEntries: 10})
	require.NoError(t, err)

	var calls int64
	fn := func() (any, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "computed", nil
	}

	results := make(chan any, 5)
	for i := 0; i < 5; i++ {
		go func() {
			v, err := c.GetOrSet(context.Background(), "shared", time.Minute, fn)
			require.NoError(t, err)
			results <- v
		}()
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, "computed", <-results)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "fn must run exactly once for concurrent misses")
}

func TestCache_InvalidatePattern(t *testing.T) {
	c, err := New(Config{MaxEntries: 10})
	require.NoError(t, err)

	c.Set(context.Background(), "users:1", "a", time.Minute)
	c.Set(context.Background(), "users:2", "b", time.Minute)
	c.Set(context.Background(), "orders:1", "c", time.Minute)

	c.InvalidatePattern(context.Background(), "users:")

	_, ok := c.Get(context.Background(), "users:1")
	assert.False(t, ok)
	_, ok = c.Get(context.Background(), "orders:1")
	assert.True(t, ok)
}

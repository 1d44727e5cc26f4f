package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A recently-touched entry survives eviction even though it was inserted
// before newer entries: get(a); get(a); set(c) with MaxEntries=2 must evict
// b, the least recently used key, not a.
func TestLRU_GetTouchesRecency(t *testing.T) {
	l := newLRU(2)

	l.set("a", 1, time.Minute)
	l.set("b", 2, time.Minute)

	_, ok := l.get("a")
	require.True(t, ok)
	_, ok = l.get("a")
	require.True(t, ok)

	l.set("c", 3, time.Minute)

	_, ok = l.get("a")
	assert.True(t, ok, "a was read most recently and must survive eviction")
	_, ok = l.get("b")
	assert.False(t, ok, "b is the least recently used key and must be evicted")
	_, ok = l.get("c")
	assert.True(t, ok)
}

// Package cache implements the two-tier query cache: a bounded in-memory
// L1 with TTL, an optional sqlite-backed
// L2 that survives restarts, and single-flight de-duplication of concurrent
// misses for the same key.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Config controls cache sizing and the optional on-disk L2 tier.
type Config struct {
	MaxEntries int
	DefaultTTL time.Duration
	// L2Path, if non-empty, backs a second tier in a sqlite file at this
	// path. Empty disables L2 and the cache runs memory-only.
	L2Path string
}

// Cache is the query-result cache handed to query.Executor.
type Cache struct {
	l1    *lru
	l2    *sqliteL2
	group singleflight.Group
	ttl   time.Duration
}

// New builds a Cache per cfg. Callers that don't want L2 persistence leave
// cfg.L2Path empty.
func New(cfg Config) (*Cache, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c := &Cache{l1: newLRU(maxEntries), ttl: cfg.DefaultTTL}
	if cfg.L2Path != "" {
		l2, err := newSQLiteL2(cfg.L2Path)
		if err != nil {
			return nil, err
		}
		c.l2 = l2
	}
	return c, nil
}

// Close releases the L2 database handle, if any.
func (c *Cache) Close() error {
	if c.l2 == nil {
		return nil
	}
	return c.l2.close()
}

// Get looks up key in L1, falling back to L2 and re-populating L1 on a
// second-tier hit.
func (c *Cache) Get(ctx context.Context, key string) (any, bool) {
	if v, ok := c.l1.get(key); ok {
		return v, true
	}
	if c.l2 == nil {
		return nil, false
	}
	raw, ok := c.l2.get(ctx, key)
	if !ok {
		return nil, false
	}
	var v any
	if err := gobDecode(raw, &v); err != nil {
		return nil, false
	}
	c.l1.set(key, v, c.ttl)
	return v, true
}

// Set writes key to both tiers. ttl of zero uses the cache's configured
// default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.l1.set(key, value, ttl)
	if c.l2 == nil {
		return
	}
	raw, err := gobEncode(value)
	if err != nil {
		return
	}
	c.l2.set(ctx, key, raw, ttl)
}

// GetOrSet returns the cached value for key, or calls fn exactly once
// across concurrent callers sharing the same key and caches its result:
// concurrent identical cache misses collapse into a single upstream
// query.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(ctx, key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, mcperrors.As(err)
	}
	return v, nil
}

// InvalidatePattern removes every cached entry whose key begins with prefix.
// Full regex/glob invalidation is intentionally not supported: callers
// fingerprint entries by normalized statement text, so a connection-id or
// table-name prefix is enough to target an invalidation without a pattern
// matcher.
func (c *Cache) InvalidatePattern(ctx context.Context, prefix string) {
	prefix = strings.TrimSuffix(prefix, "*")
	c.l1.deletePrefix(prefix)
	if c.l2 != nil {
		c.l2.deletePrefix(ctx, prefix)
	}
}

// Clear empties both tiers entirely.
func (c *Cache) Clear(ctx context.Context) {
	c.l1.clear()
	if c.l2 != nil {
		c.l2.clear(ctx)
	}
}

// Len reports the current L1 entry count, used by the cache stats resource.
func (c *Cache) Len() int {
	return c.l1.len()
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(raw []byte, out *any) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(out)
}

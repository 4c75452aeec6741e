// Package ristretto provides the in-process L1 tier of the confirmation
// read cache on top of dgraph-io/ristretto.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a byte cache with per-entry cost equal to the value size, so the
// configured budget bounds resident cached bytes, not entry count.
type Cache struct {
	inner *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most budgetBytes of values.
func New(budgetBytes int64) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Counter budget sized for roughly 10x the item count at an
		// assumed ~100 byte average entry.
		NumCounters: budgetBytes / 100 * 10,
		MaxCost:     budgetBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.inner.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for ttl. Admission is best-effort; ristretto
// may reject entries under memory pressure, which is fine for a cache tier.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.inner.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.inner.Close()
}

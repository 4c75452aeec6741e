// Package tiered composes the confirmation read cache out of a fast
// in-process tier and a shared remote tier.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/confirmd/confirmd/internal/port/cache"
)

// Cache reads L1 before L2 and backfills L1 on an L2 hit. Writes and
// deletes go to both tiers. An L1 failure degrades to L2 instead of
// failing the read.
type Cache struct {
	l1          cache.Cache
	l2          cache.Cache
	backfillTTL time.Duration
}

// New composes l1 over l2. backfillTTL bounds how long an entry promoted
// from L2 lives in L1.
func New(l1, l2 cache.Cache, backfillTTL time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, backfillTTL: backfillTTL}
}

func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		slog.Debug("l1 cache read failed", "key", key, "error", err)
	} else if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	if err := c.l1.Set(ctx, key, val, c.backfillTTL); err != nil {
		slog.Debug("l1 backfill failed", "key", key, "error", err)
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}

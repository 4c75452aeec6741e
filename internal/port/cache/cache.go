// Package cache defines the byte-cache port used by the confirmation read
// path. Implementations include the in-process ristretto tier, the shared
// JetStream KV tier, and their tiered composition.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys. Get reports a miss via
// the bool, not an error; errors mean the backend itself failed.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

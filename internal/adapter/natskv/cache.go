// Package natskv provides the shared L2 tier of the confirmation read
// cache on a JetStream key-value bucket, so cache entries survive process
// restarts and are visible to every instance.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache adapts a JetStream KV bucket to the cache port. Expiry is a bucket
// property; the per-call TTL argument is ignored.
type Cache struct {
	bucket jetstream.KeyValue
}

// New wraps an existing KV bucket.
func New(bucket jetstream.KeyValue) *Cache {
	return &Cache{bucket: bucket}
}

func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.bucket.Put(ctx, key, value)
	return err
}

// Delete removes key; deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.bucket.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

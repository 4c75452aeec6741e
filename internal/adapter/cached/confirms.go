// Package cached decorates the confirm store with a read-through cache.
package cached

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/port/cache"
	"github.com/confirmd/confirmd/internal/port/repository"
)

// ConfirmStore wraps an inner store with a byte cache for single-confirm
// reads. List queries always go to the inner store; a cache failure is
// logged and falls back to the store, never surfacing to the caller.
type ConfirmStore struct {
	inner repository.ConfirmStore
	cache cache.Cache
	ttl   time.Duration
}

// NewConfirmStore decorates inner with the given cache.
func NewConfirmStore(inner repository.ConfirmStore, c cache.Cache, ttl time.Duration) *ConfirmStore {
	return &ConfirmStore{inner: inner, cache: c, ttl: ttl}
}

func (s *ConfirmStore) Get(ctx context.Context, id string) (*confirm.Confirm, error) {
	key := cacheKey(id)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var c confirm.Confirm
		if err := json.Unmarshal(data, &c); err == nil {
			return &c, nil
		}
		_ = s.cache.Delete(ctx, key)
	}

	c, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, c)
	return c, nil
}

func (s *ConfirmStore) Create(ctx context.Context, c *confirm.Confirm) error {
	if err := s.inner.Create(ctx, c); err != nil {
		return err
	}
	s.fill(ctx, c)
	return nil
}

func (s *ConfirmStore) Update(ctx context.Context, c *confirm.Confirm) error {
	if err := s.inner.Update(ctx, c); err != nil {
		// A failed write leaves the cached copy suspect.
		_ = s.cache.Delete(ctx, cacheKey(c.ID))
		return err
	}
	s.fill(ctx, c)
	return nil
}

func (s *ConfirmStore) Delete(ctx context.Context, id string) error {
	if err := s.inner.Delete(ctx, id); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey(id))
}

func (s *ConfirmStore) ListActive(ctx context.Context) ([]*confirm.Confirm, error) {
	return s.inner.ListActive(ctx)
}

func (s *ConfirmStore) ListByContext(ctx context.Context, contextID string) ([]*confirm.Confirm, error) {
	return s.inner.ListByContext(ctx, contextID)
}

func (s *ConfirmStore) ListByStatus(ctx context.Context, status confirm.Status) ([]*confirm.Confirm, error) {
	return s.inner.ListByStatus(ctx, status)
}

func (s *ConfirmStore) fill(ctx context.Context, c *confirm.Confirm) {
	data, err := json.Marshal(c)
	if err != nil {
		slog.Warn("confirm cache marshal failed", "confirm_id", c.ID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(c.ID), data, s.ttl); err != nil {
		slog.Debug("confirm cache set failed", "confirm_id", c.ID, "error", err)
	}
}

func cacheKey(id string) string {
	return "confirm:" + id
}

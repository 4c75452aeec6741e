package ws

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/confirmd/confirmd/internal/port/eventpush"
)

// Push delivers a frame to the given targets over their open connections.
// Targets carrying a role:, group:, or email: prefix cannot be resolved to
// a connection and are reported as failed; an empty target list broadcasts.
func (h *Hub) Push(ctx context.Context, frame eventpush.Frame, targets []string) (eventpush.Result, error) {
	if len(targets) == 0 {
		h.broadcast(ctx, frame)
		return eventpush.Result{
			Targeted:  h.ConnectionCount(),
			Delivered: h.ConnectionCount(),
		}, nil
	}

	res := eventpush.Result{Targeted: len(targets)}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, target := range targets {
		target := target
		g.Go(func() error {
			if strings.ContainsRune(target, ':') || !h.send(ctx, target, frame) {
				mu.Lock()
				res.Failed = append(res.Failed, target)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			res.Delivered++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

// Subscribe registers a user's interest in a confirm's frames.
func (h *Hub) Subscribe(_ context.Context, userID, confirmID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[string]struct{})
	}
	h.subs[userID][confirmID] = struct{}{}
	return nil
}

// Unsubscribe removes a prior subscription.
func (h *Hub) Unsubscribe(_ context.Context, userID, confirmID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.subs[userID]; set != nil {
		delete(set, confirmID)
		if len(set) == 0 {
			delete(h.subs, userID)
		}
	}
	return nil
}

// Subscribers returns the connected users subscribed to a confirm.
func (h *Hub) Subscribers(confirmID string) []string {
	connected := h.connectedUsers()

	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for userID, set := range h.subs {
		if _, ok := set[confirmID]; !ok {
			continue
		}
		if _, ok := connected[userID]; ok {
			out = append(out, userID)
		}
	}
	return out
}

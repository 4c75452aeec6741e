// Package ws implements the real-time push port over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/confirmd/confirmd/internal/logger"
)

// conn wraps a single WebSocket connection belonging to one user.
type conn struct {
	ws     *websocket.Conn
	userID string
	cancel context.CancelFunc
}

// Hub manages active WebSocket connections keyed by user and tracks
// per-confirm subscriptions.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
	// subs maps userID -> set of confirmIDs the user follows.
	subs map[string]map[string]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
		subs:  make(map[string]map[string]struct{}),
	}
}

// HandleWS upgrades a request to WebSocket. The connecting user identifies
// itself with the user_id query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled upstream
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, userID: userID, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected",
		"user_id", userID,
		"remote", r.RemoteAddr,
		"request_id", logger.RequestID(r.Context()),
	)

	// Read loop to detect disconnects and consume pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// send writes a JSON payload to every connection of the given user.
// It reports whether at least one connection accepted the write.
func (h *Hub) send(ctx context.Context, userID string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return false
	}

	h.mu.RLock()
	var targets []*conn
	for c := range h.conns {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range targets {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "user_id", userID, "error", err)
			go h.remove(c)
			continue
		}
		delivered = true
	}
	return delivered
}

// broadcast writes a JSON payload to every connection.
func (h *Hub) broadcast(ctx context.Context, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// connectedUsers returns the set of users with at least one open connection.
func (h *Hub) connectedUsers() map[string]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make(map[string]struct{}, len(h.conns))
	for c := range h.conns {
		users[c.userID] = struct{}{}
	}
	return users
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "user_id", c.userID)
	}
}

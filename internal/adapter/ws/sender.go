package ws

import (
	"context"
	"fmt"

	"github.com/confirmd/confirmd/internal/port/notifier"
)

// Sender delivers notification messages over the hub's WebSocket
// connections. A recipient with no open connection is an error so the
// dispatcher can record the delivery as failed.
type Sender struct {
	hub *Hub
}

// NewSender wraps a hub as the websocket notification channel.
func NewSender(hub *Hub) *Sender {
	return &Sender{hub: hub}
}

func (s *Sender) Channel() notifier.Channel {
	return notifier.ChannelWebsocket
}

func (s *Sender) Send(ctx context.Context, msg notifier.Message) error {
	if !s.hub.send(ctx, msg.Recipient, msg) {
		return fmt.Errorf("no open connection for %q", msg.Recipient)
	}
	return nil
}

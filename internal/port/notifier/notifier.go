// Package notifier defines the notification delivery port (interface).
package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/event"
)

// ErrNotConfigured is returned when a channel sender is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Channel identifies one delivery medium.
type Channel string

const (
	ChannelWebsocket Channel = "websocket"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
)

// Status is the delivery state of one message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Request asks for one notification to be delivered to a set of recipients
// over a set of channels.
type Request struct {
	ConfirmID  string           `json:"confirm_id"`
	EventType  event.Type       `json:"event_type"`
	Recipients []string         `json:"recipients"`
	Channels   []Channel        `json:"channels"`
	Priority   confirm.Priority `json:"priority"`
	Subject    string           `json:"subject"`
	Body       string           `json:"body"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// Message is one recipient+channel delivery attempt spawned from a Request.
type Message struct {
	ID         string     `json:"id"`
	ConfirmID  string     `json:"confirm_id"`
	Recipient  string     `json:"recipient"`
	Channel    Channel    `json:"channel"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	Status     Status     `json:"status"`
	RetryCount int        `json:"retry_count"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Service is the outbound notification port. Implementations fan a Request
// out into Messages and report their per-delivery status; a partial failure
// is reported in the returned messages, not as an error.
type Service interface {
	Notify(ctx context.Context, req Request) ([]Message, error)
}

// ChannelSender delivers messages over one concrete channel.
type ChannelSender interface {
	// Channel returns the medium this sender serves.
	Channel() Channel

	// Send delivers a single message.
	Send(ctx context.Context, msg Message) error
}

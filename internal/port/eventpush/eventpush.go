// Package eventpush defines the real-time event push port (interface).
package eventpush

import (
	"context"
	"time"

	"github.com/confirmd/confirmd/internal/domain/event"
)

// PushType classifies the real-time frame pushed to connected clients.
type PushType string

const (
	PushConfirmationUpdate PushType = "confirmation_update"
	PushApprovalRequest    PushType = "approval_request"
	PushStatusChange       PushType = "status_change"
	PushUrgentNotification PushType = "urgent_notification"
	PushReminder           PushType = "reminder"
)

// Frame is one pushed real-time payload.
type Frame struct {
	Type      PushType   `json:"push_type"`
	ConfirmID string     `json:"confirm_id"`
	Event     event.Data `json:"event"`
	Timestamp time.Time  `json:"timestamp"`
}

// Result reports per-target delivery accounting for one push.
type Result struct {
	Targeted  int      `json:"targeted"`
	Delivered int      `json:"delivered"`
	Failed    []string `json:"failed,omitempty"`
}

// Pusher is the real-time push port. Targets are user IDs or prefixed
// role:/group:/email: identifiers; an empty target list broadcasts.
type Pusher interface {
	// Push delivers a frame to the given targets. Unreachable targets are
	// reported in Result, never as an error.
	Push(ctx context.Context, frame Frame, targets []string) (Result, error)

	// Subscribe registers interest of a connected user in a confirm's frames.
	Subscribe(ctx context.Context, userID, confirmID string) error

	// Unsubscribe removes a prior subscription.
	Unsubscribe(ctx context.Context, userID, confirmID string) error
}

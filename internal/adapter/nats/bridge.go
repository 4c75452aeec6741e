package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confirmd/confirmd/internal/domain/event"
	"github.com/confirmd/confirmd/internal/port/messagequeue"
)

// EventBridge publishes lifecycle events to the message queue so other
// processes can observe the confirmation lifecycle.
type EventBridge struct {
	queue messagequeue.Queue
}

// NewEventBridge wraps a queue as an event sink.
func NewEventBridge(queue messagequeue.Queue) *EventBridge {
	return &EventBridge{queue: queue}
}

// Publish serializes one event onto its confirms.events.{type} subject.
// Registered on the event manager as a handler.
func (b *EventBridge) Publish(ctx context.Context, data event.Data) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", messagequeue.SubjectEventPrefix, data.Type)
	return b.queue.Publish(ctx, subject, payload)
}

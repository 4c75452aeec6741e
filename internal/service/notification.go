// Package service contains application services.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/port/notifier"
)

// NotificationService fans a notification request out to every requested
// channel and recipient. Per-delivery failures are recorded on the message
// and logged; they never interrupt delivery to other recipients.
type NotificationService struct {
	senders map[notifier.Channel]notifier.ChannelSender
	clock   clock.Clock
}

func NewNotificationService(senders []notifier.ChannelSender, clk clock.Clock) *NotificationService {
	if clk == nil {
		clk = clock.System{}
	}
	byChannel := make(map[notifier.Channel]notifier.ChannelSender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &NotificationService{senders: byChannel, clock: clk}
}

// Notify delivers the request over every channel to every recipient and
// reports per-delivery status.
func (s *NotificationService) Notify(ctx context.Context, req notifier.Request) ([]notifier.Message, error) {
	now := s.clock.Now()
	var msgs []notifier.Message

	for _, ch := range req.Channels {
		sender, ok := s.senders[ch]
		for _, recipient := range req.Recipients {
			msg := notifier.Message{
				ID:        uuid.NewString(),
				ConfirmID: req.ConfirmID,
				Recipient: recipient,
				Channel:   ch,
				Subject:   req.Subject,
				Body:      req.Body,
				Status:    notifier.StatusPending,
				CreatedAt: now,
			}
			if !ok {
				msg.Status = notifier.StatusFailed
				msg.Error = notifier.ErrNotConfigured.Error()
				msgs = append(msgs, msg)
				continue
			}
			if err := sender.Send(ctx, msg); err != nil {
				msg.Status = notifier.StatusFailed
				msg.Error = err.Error()
				slog.Warn("notification send failed",
					"channel", ch,
					"recipient", recipient,
					"confirm_id", req.ConfirmID,
					"error", err,
				)
				msgs = append(msgs, msg)
				continue
			}
			sent := s.clock.Now()
			msg.Status = notifier.StatusSent
			msg.SentAt = &sent
			msgs = append(msgs, msg)
			slog.Debug("notification sent", "channel", ch, "recipient", recipient)
		}
	}
	return msgs, nil
}

// ChannelCount returns the number of configured channel senders.
func (s *NotificationService) ChannelCount() int {
	return len(s.senders)
}

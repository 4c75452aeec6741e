// Package email provides an SMTP-based channel sender for the notification
// subsystem.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/confirmd/confirmd/internal/port/notifier"
	"github.com/confirmd/confirmd/internal/resilience"
)

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string

	// Domain is appended to bare user IDs to form an address,
	// e.g. "example.com" turns "u-123" into "u-123@example.com".
	Domain string
}

// Sender delivers notification messages via SMTP. A circuit breaker guards
// the SMTP server; while it is open, sends fail fast and the notification
// service records the message as failed.
type Sender struct {
	cfg     SMTPConfig
	breaker *resilience.Breaker
}

// NewSender creates a new email channel sender.
func NewSender(cfg SMTPConfig) *Sender {
	return &Sender{
		cfg:     cfg,
		breaker: resilience.NewBreaker(5, 30*time.Second),
	}
}

// Channel identifies this sender as the email channel.
func (s *Sender) Channel() notifier.Channel {
	return notifier.ChannelEmail
}

// Send delivers one message. The recipient may be a bare user ID, an
// email:-prefixed address from an escalation target, or a plain address.
func (s *Sender) Send(_ context.Context, msg notifier.Message) error {
	if s.cfg.Host == "" {
		return notifier.ErrNotConfigured
	}

	to := s.resolveAddress(msg.Recipient)
	if to == "" {
		return fmt.Errorf("no address for recipient %q", msg.Recipient)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	payload := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.cfg.From, to, msg.Subject, msg.Body)

	var auth smtp.Auth
	if s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.From, s.cfg.Password, s.cfg.Host)
	}

	return s.breaker.Execute(func() error {
		return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(payload))
	})
}

func (s *Sender) resolveAddress(recipient string) string {
	if len(recipient) > 6 && recipient[:6] == "email:" {
		return recipient[6:]
	}
	for _, r := range recipient {
		if r == '@' {
			return recipient
		}
		if r == ':' {
			// role:/group: targets carry no deliverable address.
			return ""
		}
	}
	if s.cfg.Domain == "" {
		return ""
	}
	return recipient + "@" + s.cfg.Domain
}

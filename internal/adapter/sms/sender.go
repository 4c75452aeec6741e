// Package sms delivers notification messages through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/confirmd/confirmd/internal/port/notifier"
	"github.com/confirmd/confirmd/internal/resilience"
)

// Config holds the SMS gateway settings.
type Config struct {
	GatewayURL string
	APIKey     string
	From       string
}

// Sender posts messages to a generic JSON SMS gateway. A circuit breaker
// guards the gateway; while it is open, sends fail fast.
type Sender struct {
	cfg     Config
	client  *http.Client
	breaker *resilience.Breaker
}

// NewSender creates a new SMS channel sender.
func NewSender(cfg Config) *Sender {
	return &Sender{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.NewBreaker(5, 30*time.Second),
	}
}

// Channel identifies this sender as the SMS channel.
func (s *Sender) Channel() notifier.Channel {
	return notifier.ChannelSMS
}

// Send posts one message to the gateway. The recipient is passed through
// as-is; number resolution is the gateway's concern.
func (s *Sender) Send(ctx context.Context, msg notifier.Message) error {
	if s.cfg.GatewayURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(map[string]string{
		"to":   msg.Recipient,
		"from": s.cfg.From,
		"text": msg.Subject + " " + msg.Body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	return s.breaker.Execute(func() error {
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("sms gateway returned %s", resp.Status)
		}
		return nil
	})
}

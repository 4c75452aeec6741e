package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/confirmd/confirmd/internal/adapter/otel"
	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/event"
	"github.com/confirmd/confirmd/internal/port/eventpush"
	"github.com/confirmd/confirmd/internal/port/notifier"
	"github.com/confirmd/confirmd/internal/port/repository"
)

// historyCap bounds the in-memory event history kept per confirmation.
// Oldest entries are dropped first; history is an audit aid, never a source
// of truth.
const historyCap = 1000

// Handler reacts to one emitted event. Handlers run in descending priority;
// a handler failure is logged and recorded but never stops the remaining
// handlers or the emission itself.
type Handler struct {
	ID       string
	Priority int
	Fn       func(ctx context.Context, data event.Data) error
}

// ConfirmEventManager is the single funnel every lifecycle event flows
// through. It runs registered handlers, derives notifications and real-time
// pushes from the event type, and keeps a bounded emission history.
type ConfirmEventManager struct {
	confirms repository.ConfirmStore
	notify   notifier.Service
	pusher   eventpush.Pusher
	clock    clock.Clock

	mu       sync.RWMutex
	handlers []Handler
	history  map[string][]event.Record
}

func NewConfirmEventManager(confirms repository.ConfirmStore, notify notifier.Service, pusher eventpush.Pusher, clk clock.Clock) *ConfirmEventManager {
	if clk == nil {
		clk = clock.System{}
	}
	return &ConfirmEventManager{
		confirms: confirms,
		notify:   notify,
		pusher:   pusher,
		clock:    clk,
		history:  make(map[string][]event.Record),
	}
}

// RegisterHandler adds a handler to the pipeline.
func (m *ConfirmEventManager) RegisterHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
	sort.SliceStable(m.handlers, func(i, j int) bool { return m.handlers[i].Priority > m.handlers[j].Priority })
}

// UnregisterHandler removes a handler by ID.
func (m *ConfirmEventManager) UnregisterHandler(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.handlers {
		if m.handlers[i].ID == id {
			m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
			return
		}
	}
}

// Emit runs the full pipeline for one event. The emission is always
// recorded in history, including when it fails; the returned error reflects
// delivery-pipeline failures, not individual handler failures.
func (m *ConfirmEventManager) Emit(ctx context.Context, data event.Data) (err error) {
	ctx, span := otel.StartEmitSpan(ctx, string(data.Type), data.ConfirmID)
	defer span.End()

	start := m.clock.Now()
	defer func() {
		rec := event.Record{
			ID:          uuid.NewString(),
			Type:        data.Type,
			ConfirmID:   data.ConfirmID,
			Data:        data,
			Timestamp:   start,
			ProcessedAt: m.clock.Now(),
			Success:     err == nil,
		}
		rec.Duration = rec.ProcessedAt.Sub(start)
		if err != nil {
			rec.Error = err.Error()
		}
		m.recordHistory(rec)
	}()

	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.RUnlock()

	for _, h := range handlers {
		if hErr := h.Fn(ctx, data); hErr != nil {
			slog.Warn("event handler failed",
				"handler", h.ID,
				"event_type", data.Type,
				"confirm_id", data.ConfirmID,
				"error", hErr,
			)
		}
	}

	if nErr := m.dispatchNotification(ctx, data); nErr != nil {
		err = fmt.Errorf("notification dispatch: %w", nErr)
		return err
	}
	if pErr := m.dispatchPush(ctx, data); pErr != nil {
		err = fmt.Errorf("push dispatch: %w", pErr)
		return err
	}
	return nil
}

// EmitBatch emits every event, settling all of them before reporting the
// joined failures.
func (m *ConfirmEventManager) EmitBatch(ctx context.Context, batch []event.Data) error {
	var errs []error
	for i := range batch {
		if err := m.Emit(ctx, batch[i]); err != nil {
			errs = append(errs, fmt.Errorf("event %s for %s: %w", batch[i].Type, batch[i].ConfirmID, err))
		}
	}
	return errors.Join(errs...)
}

// History returns the recorded emissions for one confirm, newest last. An
// empty confirmID returns every confirm's records; ordering across confirms
// is then unspecified.
func (m *ConfirmEventManager) History(confirmID string) []event.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if confirmID != "" {
		return append([]event.Record(nil), m.history[confirmID]...)
	}
	var out []event.Record
	for _, recs := range m.history {
		out = append(out, recs...)
	}
	return out
}

// recordHistory appends to the confirm's own history so one chatty confirm
// cannot evict another's audit trail.
func (m *ConfirmEventManager) recordHistory(rec event.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := append(m.history[rec.ConfirmID], rec)
	if len(recs) > historyCap {
		recs = recs[len(recs)-historyCap:]
	}
	m.history[rec.ConfirmID] = recs
}

// dispatchNotification derives and sends the notification for an event.
// Events with no notification mapping are skipped silently.
func (m *ConfirmEventManager) dispatchNotification(ctx context.Context, data event.Data) error {
	if m.notify == nil {
		return nil
	}
	subject, body, ok := notificationContent(data)
	if !ok {
		return nil
	}

	c, err := m.confirms.Get(ctx, data.ConfirmID)
	if err != nil {
		return err
	}
	prio := notificationPriority(data.Type)
	msgs, err := m.notify.Notify(ctx, notifier.Request{
		ConfirmID:  c.ID,
		EventType:  data.Type,
		Recipients: recipientsOf(c),
		Channels:   channelsFor(prio),
		Priority:   prio,
		Subject:    subject,
		Body:       body,
	})
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if msg.Status == notifier.StatusFailed {
			slog.Warn("notification delivery failed",
				"confirm_id", c.ID,
				"recipient", msg.Recipient,
				"channel", msg.Channel,
				"error", msg.Error,
			)
		}
	}
	return nil
}

// dispatchPush derives and sends the real-time frame for an event.
func (m *ConfirmEventManager) dispatchPush(ctx context.Context, data event.Data) error {
	if m.pusher == nil {
		return nil
	}
	pushType, ok := pushTypeFor(data.Type)
	if !ok {
		return nil
	}

	c, err := m.confirms.Get(ctx, data.ConfirmID)
	if err != nil {
		return err
	}
	res, err := m.pusher.Push(ctx, eventpush.Frame{
		Type:      pushType,
		ConfirmID: c.ID,
		Event:     data,
		Timestamp: m.clock.Now(),
	}, recipientsOf(c))
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		slog.Debug("push skipped unreachable targets",
			"confirm_id", c.ID,
			"failed", len(res.Failed),
		)
	}
	return nil
}

// notificationContent maps an event to notification subject and body.
// Only user-facing milestones notify; internal bookkeeping events such as
// status_changed, timeout_warning, and approver churn return ok=false and
// reach users through push frames only.
func notificationContent(data event.Data) (subject, body string, ok bool) {
	id := data.ConfirmID
	switch data.Type {
	case event.TypeConfirmationCreated, event.TypeApprovalRequested:
		return fmt.Sprintf("Approval requested: %s", id),
			fmt.Sprintf("Confirmation %s awaits your review.", id), true
	case event.TypeApprovalSubmitted:
		return fmt.Sprintf("Approval recorded for %s", id),
			fmt.Sprintf("A decision was recorded on confirmation %s.", id), true
	case event.TypeConfirmationApproved:
		return fmt.Sprintf("Confirmation %s approved", id),
			fmt.Sprintf("Confirmation %s was approved.", id), true
	case event.TypeConfirmationRejected:
		return fmt.Sprintf("Confirmation %s rejected", id),
			fmt.Sprintf("Confirmation %s was rejected.", id), true
	case event.TypeConfirmationCancelled:
		return fmt.Sprintf("Confirmation %s cancelled", id),
			fmt.Sprintf("Confirmation %s was cancelled.", id), true
	case event.TypeConfirmationExpired:
		return fmt.Sprintf("Confirmation %s expired", id),
			fmt.Sprintf("Confirmation %s passed its deadline without a decision.", id), true
	case event.TypeEscalationTriggered:
		return fmt.Sprintf("Confirmation %s escalated", id),
			fmt.Sprintf("Confirmation %s was escalated to level %d.", id, data.EscalationLevel), true
	case event.TypeReminderSent:
		return fmt.Sprintf("Reminder: confirmation %s awaits a decision", id),
			fmt.Sprintf("Confirmation %s is still pending.", id), true
	default:
		return "", "", false
	}
}

// pushTypeFor maps an event to its real-time push frame type. The switch is
// exhaustive over event types; ok=false means no frame is pushed.
func pushTypeFor(t event.Type) (eventpush.PushType, bool) {
	switch t {
	case event.TypeConfirmationCreated, event.TypeApprovalRequested:
		return eventpush.PushApprovalRequest, true
	case event.TypeConfirmationSubmitted,
		event.TypeConfirmationApproved,
		event.TypeConfirmationRejected,
		event.TypeConfirmationCancelled,
		event.TypeConfirmationExpired,
		event.TypeStatusChanged:
		return eventpush.PushStatusChange, true
	case event.TypeApprovalSubmitted,
		event.TypeApprovalWithdrawn,
		event.TypeApproverAssigned,
		event.TypeApproverRemoved,
		event.TypePriorityChanged,
		event.TypeDeadlineExtended:
		return eventpush.PushConfirmationUpdate, true
	case event.TypeTimeoutWarning, event.TypeReminderSent:
		return eventpush.PushReminder, true
	case event.TypeTimeoutOccurred,
		event.TypeEscalationTriggered,
		event.TypeEscalationCompleted:
		return eventpush.PushUrgentNotification, true
	case event.TypeNotificationFailed:
		return "", false
	default:
		return "", false
	}
}

// notificationPriority classifies an event's urgency. The classification is
// a property of the event type, not of the confirm it concerns: an
// escalation is urgent even on a medium-priority confirm.
func notificationPriority(t event.Type) confirm.Priority {
	switch t {
	case event.TypeEscalationTriggered, event.TypeTimeoutOccurred, event.TypeConfirmationExpired:
		return confirm.PriorityUrgent
	case event.TypeApprovalRequested, event.TypeTimeoutWarning:
		return confirm.PriorityHigh
	default:
		return confirm.PriorityMedium
	}
}

// channelsFor selects delivery channels by notification priority: websocket
// always, email for high and above, SMS for urgent and above.
func channelsFor(p confirm.Priority) []notifier.Channel {
	channels := []notifier.Channel{notifier.ChannelWebsocket}
	switch p {
	case confirm.PriorityHigh:
		channels = append(channels, notifier.ChannelEmail)
	case confirm.PriorityUrgent, confirm.PriorityCritical:
		channels = append(channels, notifier.ChannelEmail, notifier.ChannelSMS)
	}
	return channels
}

// recipientsOf returns the requester and approver, deduplicated.
func recipientsOf(c *confirm.Confirm) []string {
	out := []string{}
	if c.Requester.UserID != "" {
		out = append(out, c.Requester.UserID)
	}
	if c.Approver.UserID != "" && c.Approver.UserID != c.Requester.UserID {
		out = append(out, c.Approver.UserID)
	}
	if c.Workflow != nil {
		for _, step := range c.Workflow.Steps {
			uid := step.Approver.UserID
			if uid == "" || contains(out, uid) {
				continue
			}
			out = append(out, uid)
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

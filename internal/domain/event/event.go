// Package event defines the typed lifecycle events emitted by the
// confirmation engine and the per-confirm history record of each emission.
package event

import (
	"time"

	"github.com/confirmd/confirmd/internal/domain/confirm"
)

// Type identifies one kind of confirmation lifecycle event.
type Type string

const (
	// Lifecycle events.
	TypeConfirmationCreated   Type = "confirmation_created"
	TypeConfirmationSubmitted Type = "confirmation_submitted"
	TypeConfirmationApproved  Type = "confirmation_approved"
	TypeConfirmationRejected  Type = "confirmation_rejected"
	TypeConfirmationCancelled Type = "confirmation_cancelled"
	TypeConfirmationExpired   Type = "confirmation_expired"

	// Approval flow events.
	TypeApprovalRequested Type = "approval_requested"
	TypeApprovalSubmitted Type = "approval_submitted"
	TypeApprovalWithdrawn Type = "approval_withdrawn"
	TypeApproverAssigned  Type = "approver_assigned"
	TypeApproverRemoved   Type = "approver_removed"

	// State change events.
	TypeStatusChanged    Type = "status_changed"
	TypePriorityChanged  Type = "priority_changed"
	TypeDeadlineExtended Type = "deadline_extended"

	// Timeout and escalation events.
	TypeTimeoutWarning      Type = "timeout_warning"
	TypeTimeoutOccurred     Type = "timeout_occurred"
	TypeEscalationTriggered Type = "escalation_triggered"
	TypeEscalationCompleted Type = "escalation_completed"

	// Notification events.
	TypeReminderSent       Type = "reminder_sent"
	TypeNotificationFailed Type = "notification_failed"
)

// Data is the payload carried by one event emission.
type Data struct {
	Type            Type           `json:"event_type"`
	ConfirmID       string         `json:"confirm_id"`
	ContextID       string         `json:"context_id,omitempty"`
	PlanID          string         `json:"plan_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	ApproverUserID  string         `json:"approver_user_id,omitempty"`
	Status          confirm.Status `json:"status,omitempty"`
	PreviousStatus  confirm.Status `json:"previous_status,omitempty"`
	Decision        string         `json:"decision,omitempty"`
	EscalationLevel int            `json:"escalation_level,omitempty"`
	TimeoutDuration time.Duration  `json:"timeout_duration,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Record is one entry in a confirm's bounded event history. It is a derived
// audit record, never a source of truth for state.
type Record struct {
	ID          string        `json:"id"`
	Type        Type          `json:"event_type"`
	ConfirmID   string        `json:"confirm_id"`
	Data        Data          `json:"data"`
	Timestamp   time.Time     `json:"timestamp"`
	ProcessedAt time.Time     `json:"processed_at"`
	Duration    time.Duration `json:"processing_duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}

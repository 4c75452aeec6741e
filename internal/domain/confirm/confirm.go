// Package confirm defines the Confirm domain entity, the aggregate root of
// the confirmation lifecycle engine.
package confirm

import (
	"fmt"
	"time"

	"github.com/confirmd/confirmd/internal/domain"
)

// Status represents the current state of a confirmation request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in_review"
	StatusEscalated Status = "escalated"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Priority is the ordered urgency classification of a confirmation.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// Type classifies what kind of approval a confirmation represents.
type Type string

const (
	TypePlanApproval          Type = "plan_approval"
	TypeTaskApproval          Type = "task_approval"
	TypeMilestoneConfirmation Type = "milestone_confirmation"
	TypeRiskAcceptance        Type = "risk_acceptance"
	TypeResourceAllocation    Type = "resource_allocation"
	TypeEmergencyApproval     Type = "emergency_approval"
)

// DecisionOutcome is the final verdict attached to a confirmation.
type DecisionOutcome string

const (
	OutcomeApproved  DecisionOutcome = "approved"
	OutcomeRejected  DecisionOutcome = "rejected"
	OutcomeEscalated DecisionOutcome = "escalated"
)

// Decision records the verdict made on a confirmation while it was in review.
type Decision struct {
	Outcome   DecisionOutcome `json:"outcome"`
	Comments  string          `json:"comments,omitempty"`
	DecidedBy string          `json:"decided_by,omitempty"`
	DecidedAt time.Time       `json:"decided_at"`
}

// Requester identifies who opened the confirmation and why.
type Requester struct {
	UserID        string `json:"user_id"`
	Role          string `json:"role"`
	Department    string `json:"department,omitempty"`
	RequestReason string `json:"request_reason,omitempty"`
}

// Attachment references a file associated with a confirmation.
type Attachment struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Metadata carries free-form data attached to a confirmation.
// The engine never interprets it.
type Metadata struct {
	Source       string         `json:"source,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	Attachments  []Attachment   `json:"attachments,omitempty"`
}

// Confirm is a single approval-workflow request tracked by the engine.
type Confirm struct {
	ID        string `json:"id"`
	ContextID string `json:"context_id"`
	PlanID    string `json:"plan_id,omitempty"`

	Type     Type     `json:"confirmation_type"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	Requester Requester `json:"requester"`
	Approver  Approver  `json:"approver,omitempty"`

	Workflow *Workflow `json:"approval_workflow,omitempty"`
	Decision *Decision `json:"decision,omitempty"`
	Metadata Metadata  `json:"metadata,omitempty"`

	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// transitions is the single source of truth for permitted status edges.
// Approved, rejected, cancelled, and expired are terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusInReview, StatusCancelled},
	StatusInReview:  {StatusApproved, StatusRejected, StatusEscalated, StatusCancelled, StatusExpired},
	StatusEscalated: {StatusInReview, StatusApproved, StatusCancelled},
}

// CanTransition reports whether the state machine permits from -> next.
func CanTransition(from, next Status) bool {
	for _, s := range transitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

// UpdateStatus moves the confirmation to next, refusing edges not present in
// the transition table. On success UpdatedAt is refreshed; on failure the
// status is left unchanged.
func (c *Confirm) UpdateStatus(next Status, now time.Time) error {
	if !CanTransition(c.Status, next) {
		return fmt.Errorf("transition %s -> %s: %w", c.Status, next, domain.ErrInvalidTransition)
	}
	c.Status = next
	c.UpdatedAt = now
	return nil
}

// Cancel terminates the confirmation. Only pending, in-review, and escalated
// confirmations may be cancelled.
func (c *Confirm) Cancel(now time.Time) error {
	switch c.Status {
	case StatusPending, StatusInReview, StatusEscalated:
		c.Status = StatusCancelled
		c.UpdatedAt = now
		return nil
	default:
		return fmt.Errorf("cancel from %s: %w", c.Status, domain.ErrInvalidState)
	}
}

// SetDecision records the verdict. A decision may only be made while the
// confirmation is in review.
func (c *Confirm) SetDecision(d Decision, now time.Time) error {
	if c.Status != StatusInReview {
		return fmt.Errorf("decision in %s: %w", c.Status, domain.ErrInvalidState)
	}
	d.DecidedAt = now
	c.Decision = &d
	c.UpdatedAt = now
	return nil
}

// ExtendDeadline pushes ExpiresAt forward by the given duration. When no
// deadline is set, the new deadline is now + by.
func (c *Confirm) ExtendDeadline(by time.Duration, now time.Time) error {
	if by <= 0 {
		return fmt.Errorf("extension must be positive: %w", domain.ErrValidation)
	}
	base := now
	if c.ExpiresAt != nil {
		base = *c.ExpiresAt
	}
	next := base.Add(by)
	c.ExpiresAt = &next
	c.UpdatedAt = now
	return nil
}

// IsExpired reports whether the confirmation has a deadline in the past.
func (c *Confirm) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// IsActive reports whether the confirmation still awaits an outcome.
func (c *Confirm) IsActive() bool {
	switch c.Status {
	case StatusPending, StatusInReview, StatusEscalated:
		return true
	default:
		return false
	}
}

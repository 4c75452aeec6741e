package confirm

import (
	"fmt"

	"github.com/confirmd/confirmd/internal/domain"
)

// validStatuses enumerates all valid confirmation statuses.
var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusInReview:  true,
	StatusEscalated: true,
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
	StatusExpired:   true,
}

// validPriorities enumerates all valid priorities.
var validPriorities = map[Priority]bool{
	PriorityLow:      true,
	PriorityMedium:   true,
	PriorityHigh:     true,
	PriorityUrgent:   true,
	PriorityCritical: true,
}

// validTypes enumerates all valid confirmation types.
var validTypes = map[Type]bool{
	TypePlanApproval:          true,
	TypeTaskApproval:          true,
	TypeMilestoneConfirmation: true,
	TypeRiskAcceptance:        true,
	TypeResourceAllocation:    true,
	TypeEmergencyApproval:     true,
}

// Validate checks that a Confirm has all required fields and valid values.
func (c *Confirm) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required: %w", domain.ErrValidation)
	}
	if c.ContextID == "" {
		return fmt.Errorf("context_id is required: %w", domain.ErrValidation)
	}
	if !validTypes[c.Type] {
		return fmt.Errorf("invalid confirmation_type %q: %w", c.Type, domain.ErrValidation)
	}
	if !validPriorities[c.Priority] {
		return fmt.Errorf("invalid priority %q: %w", c.Priority, domain.ErrValidation)
	}
	if !validStatuses[c.Status] {
		return fmt.Errorf("invalid status %q: %w", c.Status, domain.ErrValidation)
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(c.CreatedAt) {
		return fmt.Errorf("expires_at precedes created_at: %w", domain.ErrValidation)
	}
	return nil
}

// CreateRequest holds the fields needed to open a new confirmation.
type CreateRequest struct {
	ContextID string    `json:"context_id"`
	PlanID    string    `json:"plan_id,omitempty"`
	Type      Type      `json:"confirmation_type"`
	Priority  Priority  `json:"priority"`
	Requester Requester `json:"requester"`
	Workflow  *Workflow `json:"approval_workflow,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	TTLHours  int       `json:"ttl_hours,omitempty"`
}

// Validate checks that a CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.ContextID == "" {
		return fmt.Errorf("context_id is required: %w", domain.ErrValidation)
	}
	if !validTypes[r.Type] {
		return fmt.Errorf("invalid confirmation_type %q: %w", r.Type, domain.ErrValidation)
	}
	if r.Priority != "" && !validPriorities[r.Priority] {
		return fmt.Errorf("invalid priority %q: %w", r.Priority, domain.ErrValidation)
	}
	if r.TTLHours < 0 {
		return fmt.Errorf("ttl_hours must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}

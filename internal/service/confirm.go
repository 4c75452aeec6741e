package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/domain"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/escalation"
	"github.com/confirmd/confirmd/internal/domain/event"
	"github.com/confirmd/confirmd/internal/domain/timeout"
	"github.com/confirmd/confirmd/internal/port/repository"
)

// ConfirmService owns the confirmation lifecycle: creation, review,
// decisions, expiry, and the periodic timeout sweep.
type ConfirmService struct {
	confirms    repository.ConfirmStore
	timeouts    *TimeoutService
	escalations *EscalationEngine
	emitter     Emitter
	clock       clock.Clock
}

func NewConfirmService(
	confirms repository.ConfirmStore,
	timeouts *TimeoutService,
	escalations *EscalationEngine,
	emitter Emitter,
	clk clock.Clock,
) *ConfirmService {
	if clk == nil {
		clk = clock.System{}
	}
	return &ConfirmService{
		confirms:    confirms,
		timeouts:    timeouts,
		escalations: escalations,
		emitter:     emitter,
		clock:       clk,
	}
}

// Create opens a new confirmation in pending state.
func (s *ConfirmService) Create(ctx context.Context, req confirm.CreateRequest) (*confirm.Confirm, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	c := &confirm.Confirm{
		ID:        uuid.NewString(),
		ContextID: req.ContextID,
		PlanID:    req.PlanID,
		Type:      req.Type,
		Priority:  req.Priority,
		Status:    confirm.StatusPending,
		Requester: req.Requester,
		Workflow:  req.Workflow,
		Metadata:  req.Metadata,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.Priority == "" {
		c.Priority = confirm.PriorityMedium
	}
	if req.TTLHours > 0 {
		exp := now.Add(time.Duration(req.TTLHours) * time.Hour)
		c.ExpiresAt = &exp
	}
	if c.Workflow != nil {
		if step := c.Workflow.CurrentStep(); step != nil {
			c.Approver = step.Approver
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.confirms.Create(ctx, c); err != nil {
		return nil, err
	}

	s.emit(ctx, event.Data{
		Type:      event.TypeConfirmationCreated,
		ConfirmID: c.ID,
		ContextID: c.ContextID,
		PlanID:    c.PlanID,
		UserID:    c.Requester.UserID,
		Status:    c.Status,
	})
	return c, nil
}

// Get returns a confirmation by ID.
func (s *ConfirmService) Get(ctx context.Context, id string) (*confirm.Confirm, error) {
	return s.confirms.Get(ctx, id)
}

// ListActive returns every confirmation still awaiting an outcome.
func (s *ConfirmService) ListActive(ctx context.Context) ([]*confirm.Confirm, error) {
	return s.confirms.ListActive(ctx)
}

// ListByContext returns every confirmation opened under a context.
func (s *ConfirmService) ListByContext(ctx context.Context, contextID string) ([]*confirm.Confirm, error) {
	return s.confirms.ListByContext(ctx, contextID)
}

// Submit moves a pending confirmation into review and requests approval.
func (s *ConfirmService) Submit(ctx context.Context, id string) (*confirm.Confirm, error) {
	c, err := s.confirms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	prev := c.Status
	if err := c.UpdateStatus(confirm.StatusInReview, now); err != nil {
		return nil, err
	}
	if err := s.confirms.Update(ctx, c); err != nil {
		return nil, err
	}

	s.emit(ctx, event.Data{
		Type:           event.TypeConfirmationSubmitted,
		ConfirmID:      c.ID,
		ContextID:      c.ContextID,
		Status:         c.Status,
		PreviousStatus: prev,
	})
	s.emit(ctx, event.Data{
		Type:           event.TypeApprovalRequested,
		ConfirmID:      c.ID,
		ContextID:      c.ContextID,
		ApproverUserID: c.Approver.UserID,
	})
	return c, nil
}

// Approve records an approving decision on an in-review confirmation. An
// escalated confirmation is pulled back into review first.
func (s *ConfirmService) Approve(ctx context.Context, id, decidedBy, comments string) (*confirm.Confirm, error) {
	return s.decide(ctx, id, decidedBy, comments, confirm.StatusApproved, confirm.OutcomeApproved)
}

// Reject records a rejecting decision on an in-review confirmation.
func (s *ConfirmService) Reject(ctx context.Context, id, decidedBy, comments string) (*confirm.Confirm, error) {
	return s.decide(ctx, id, decidedBy, comments, confirm.StatusRejected, confirm.OutcomeRejected)
}

// Cancel terminates an active confirmation.
func (s *ConfirmService) Cancel(ctx context.Context, id, by string) (*confirm.Confirm, error) {
	c, err := s.confirms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	prev := c.Status
	if err := c.Cancel(now); err != nil {
		return nil, err
	}
	if err := s.confirms.Update(ctx, c); err != nil {
		return nil, err
	}

	s.emit(ctx, event.Data{
		Type:           event.TypeConfirmationCancelled,
		ConfirmID:      c.ID,
		ContextID:      c.ContextID,
		UserID:         by,
		Status:         c.Status,
		PreviousStatus: prev,
	})
	return c, nil
}

// Expire drives a confirmation past its deadline into the expired state.
// A still-pending confirmation passes through review on the way out.
func (s *ConfirmService) Expire(ctx context.Context, id string) (*confirm.Confirm, error) {
	c, err := s.confirms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	prev := c.Status
	if c.Status == confirm.StatusPending {
		if err := c.UpdateStatus(confirm.StatusInReview, now); err != nil {
			return nil, err
		}
	}
	if err := c.UpdateStatus(confirm.StatusExpired, now); err != nil {
		return nil, err
	}
	if err := s.confirms.Update(ctx, c); err != nil {
		return nil, err
	}

	s.emit(ctx, event.Data{
		Type:           event.TypeConfirmationExpired,
		ConfirmID:      c.ID,
		ContextID:      c.ContextID,
		Status:         c.Status,
		PreviousStatus: prev,
	})
	return c, nil
}

// ExtendDeadline grants a confirmation more time.
func (s *ConfirmService) ExtendDeadline(ctx context.Context, id string, by time.Duration) (*confirm.Confirm, error) {
	c, err := s.confirms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive() {
		return nil, fmt.Errorf("confirm %s is %s: %w", c.ID, c.Status, domain.ErrInvalidState)
	}
	if err := c.ExtendDeadline(by, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.confirms.Update(ctx, c); err != nil {
		return nil, err
	}

	s.emit(ctx, event.Data{
		Type:            event.TypeDeadlineExtended,
		ConfirmID:       c.ID,
		ContextID:       c.ContextID,
		TimeoutDuration: by,
	})
	return c, nil
}

// AssignApprover sets or replaces the responsible approver.
func (s *ConfirmService) AssignApprover(ctx context.Context, id string, approver confirm.Approver) (*confirm.Confirm, error) {
	c, err := s.confirms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive() {
		return nil, fmt.Errorf("confirm %s is %s: %w", c.ID, c.Status, domain.ErrInvalidState)
	}
	c.Approver = approver
	c.UpdatedAt = s.clock.Now()
	if err := s.confirms.Update(ctx, c); err != nil {
		return nil, err
	}

	s.emit(ctx, event.Data{
		Type:           event.TypeApproverAssigned,
		ConfirmID:      c.ID,
		ContextID:      c.ContextID,
		ApproverUserID: approver.UserID,
	})
	return c, nil
}

// ProcessTimeouts sweeps every active confirmation, emits warnings, and
// applies the recommended action to expired ones. Intended to run on a
// scheduler tick.
func (s *ConfirmService) ProcessTimeouts(ctx context.Context) error {
	batch, err := s.timeouts.CheckAll(ctx)
	if err != nil {
		return err
	}

	for _, check := range batch.Results {
		switch check.Result {
		case timeout.ResultWarning:
			s.emit(ctx, event.Data{
				Type:            event.TypeTimeoutWarning,
				ConfirmID:       check.ConfirmID,
				TimeoutDuration: check.TimeRemaining,
			})
		case timeout.ResultExpired, timeout.ResultCritical:
			s.emit(ctx, event.Data{
				Type:            event.TypeTimeoutOccurred,
				ConfirmID:       check.ConfirmID,
				TimeoutDuration: check.TotalTimeout,
			})
			if err := s.applyTimeoutAction(ctx, check); err != nil {
				slog.Warn("timeout action failed",
					"confirm_id", check.ConfirmID,
					"action", check.RecommendedAction,
					"error", err,
				)
			}
		}
	}
	return nil
}

// Statistics aggregates confirmation counts by status and priority.
func (s *ConfirmService) Statistics(ctx context.Context) (*confirm.Statistics, error) {
	all := make([]*confirm.Confirm, 0)
	for _, st := range []confirm.Status{
		confirm.StatusPending, confirm.StatusInReview, confirm.StatusEscalated,
		confirm.StatusApproved, confirm.StatusRejected, confirm.StatusCancelled,
		confirm.StatusExpired,
	} {
		cs, err := s.confirms.ListByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		all = append(all, cs...)
	}

	stats := &confirm.Statistics{
		ByStatus:   make(map[confirm.Status]int),
		ByPriority: make(map[confirm.Priority]int),
		ByType:     make(map[confirm.Type]int),
		Timestamp:  s.clock.Now(),
	}
	var decided int
	var totalDecisionTime time.Duration
	for _, c := range all {
		stats.Total++
		stats.ByStatus[c.Status]++
		stats.ByPriority[c.Priority]++
		stats.ByType[c.Type]++
		if c.IsActive() {
			stats.Active++
		}
		if c.Decision != nil {
			decided++
			totalDecisionTime += c.Decision.DecidedAt.Sub(c.CreatedAt)
		}
	}
	if decided > 0 {
		stats.AverageDecisionTime = totalDecisionTime / time.Duration(decided)
	}
	return stats, nil
}

// applyTimeoutAction executes the rule-recommended action for an expired
// confirmation. An escalation action with no matching rule falls back to
// expiry so the confirm never lingers.
func (s *ConfirmService) applyTimeoutAction(ctx context.Context, check timeout.Check) error {
	c, err := s.confirms.Get(ctx, check.ConfirmID)
	if err != nil {
		return err
	}
	if !c.IsActive() {
		return nil
	}

	switch check.RecommendedAction {
	case timeout.ActionEscalate:
		if s.escalations != nil {
			res, err := s.escalations.Trigger(ctx, c.ID, "", escalation.TypeTimeBased)
			if err != nil {
				return err
			}
			if res.Success || res.EscalationID != "" {
				return nil
			}
		}
		_, err := s.Expire(ctx, c.ID)
		return err
	case timeout.ActionAutoApprove:
		if c.Status == confirm.StatusPending {
			if _, err := s.Submit(ctx, c.ID); err != nil {
				return err
			}
		}
		_, err := s.Approve(ctx, c.ID, "system", "auto-approved on timeout")
		return err
	case timeout.ActionAutoReject:
		if c.Status == confirm.StatusPending {
			if _, err := s.Submit(ctx, c.ID); err != nil {
				return err
			}
		}
		_, err := s.Reject(ctx, c.ID, "system", "auto-rejected on timeout")
		return err
	case timeout.ActionCancel:
		_, err := s.Cancel(ctx, c.ID, "system")
		return err
	case timeout.ActionSendWarning:
		return nil
	default:
		_, err := s.Expire(ctx, c.ID)
		return err
	}
}

func (s *ConfirmService) decide(ctx context.Context, id, decidedBy, comments string, status confirm.Status, outcome confirm.DecisionOutcome) (*confirm.Confirm, error) {
	c, err := s.confirms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	prev := c.Status
	if c.Status == confirm.StatusEscalated {
		if err := c.UpdateStatus(confirm.StatusInReview, now); err != nil {
			return nil, err
		}
	}
	if err := c.SetDecision(confirm.Decision{
		Outcome:   outcome,
		Comments:  comments,
		DecidedBy: decidedBy,
	}, now); err != nil {
		return nil, err
	}
	if err := c.UpdateStatus(status, now); err != nil {
		return nil, err
	}
	if err := s.confirms.Update(ctx, c); err != nil {
		return nil, err
	}

	evType := event.TypeConfirmationApproved
	if status == confirm.StatusRejected {
		evType = event.TypeConfirmationRejected
	}
	s.emit(ctx, event.Data{
		Type:           evType,
		ConfirmID:      c.ID,
		ContextID:      c.ContextID,
		UserID:         decidedBy,
		Status:         c.Status,
		PreviousStatus: prev,
		Decision:       string(outcome),
	})
	return c, nil
}

func (s *ConfirmService) emit(ctx context.Context, data event.Data) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, data); err != nil {
		slog.Warn("confirm event emit failed", "event_type", data.Type, "error", err)
	}
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/confirmd/confirmd/internal/adapter/otel"
	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/domain"
	"github.com/confirmd/confirmd/internal/domain/automation"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/escalation"
	"github.com/confirmd/confirmd/internal/domain/event"
	"github.com/confirmd/confirmd/internal/domain/timeout"
	"github.com/confirmd/confirmd/internal/port/notifier"
	"github.com/confirmd/confirmd/internal/port/repository"
)

// AutomationService evaluates automation rules against confirmations and
// executes the resulting decisions. The confidence threshold is a hard gate:
// a decision scoring below it is withheld entirely, never executed at
// reduced strength.
type AutomationService struct {
	rules       repository.RuleStore[automation.Rule]
	confirms    repository.ConfirmStore
	timeouts    *TimeoutService
	escalations *EscalationEngine
	notify      notifier.Service
	emitter     Emitter
	clock       clock.Clock
	weights     automation.Weights

	mu         sync.Mutex
	executions []execRecord
}

// execRecord is one executed decision, kept for limit enforcement and
// statistics. Single-process bookkeeping; a multi-node deployment needs a
// shared store behind this.
type execRecord struct {
	RuleID    string
	ConfirmID string
	Decision  automation.DecisionType
	At        time.Time
}

func NewAutomationService(
	rules repository.RuleStore[automation.Rule],
	confirms repository.ConfirmStore,
	timeouts *TimeoutService,
	escalations *EscalationEngine,
	notify notifier.Service,
	emitter Emitter,
	clk clock.Clock,
	weights automation.Weights,
) *AutomationService {
	if clk == nil {
		clk = clock.System{}
	}
	if weights == (automation.Weights{}) {
		weights = automation.DefaultWeights()
	}
	return &AutomationService{
		rules:       rules,
		confirms:    confirms,
		timeouts:    timeouts,
		escalations: escalations,
		notify:      notify,
		emitter:     emitter,
		clock:       clk,
		weights:     weights,
	}
}

// AddRule registers or replaces an automation rule.
func (s *AutomationService) AddRule(ctx context.Context, r automation.Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required: %w", domain.ErrValidation)
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("rule %s confidence threshold out of [0,1]: %w", r.ID, domain.ErrValidation)
	}
	return s.rules.Put(ctx, r.ID, r)
}

// RemoveRule deletes an automation rule.
func (s *AutomationService) RemoveRule(ctx context.Context, id string) error {
	return s.rules.Delete(ctx, id)
}

// Evaluate picks the highest-priority applicable rule for the confirm and
// scores it. A nil result means no rule produced an executable decision.
func (s *AutomationService) Evaluate(ctx context.Context, c *confirm.Confirm) (*automation.DecisionResult, error) {
	ctx, span := otel.StartAutomationSpan(ctx, c.ID)
	defer span.End()

	if !c.IsActive() {
		return nil, nil
	}

	check, err := s.timeouts.Check(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("timeout check: %w", err)
	}

	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	// Only the highest-priority applicable rule is considered. Its threshold
	// is a hard gate: scoring below it withholds the decision entirely
	// rather than falling through to a weaker rule.
	now := s.clock.Now()
	var rule *automation.Rule
	for i := range rules {
		r := &rules[i]
		if !r.Enabled || !r.Conditions.Match(c, now) {
			continue
		}
		if !s.withinLimits(r, c.ID, now) {
			continue
		}
		rule = r
		break
	}
	if rule == nil {
		return nil, nil
	}

	confidence, reasoning := s.score(c, check)
	if confidence < rule.ConfidenceThreshold {
		slog.Debug("automation: confidence below threshold",
			"rule_id", rule.ID,
			"confirm_id", c.ID,
			"confidence", confidence,
			"threshold", rule.ConfidenceThreshold,
		)
		return nil, nil
	}
	return &automation.DecisionResult{
		RuleID:     rule.ID,
		Decision:   rule.Decision,
		Confidence: confidence,
		Reasoning:  reasoning,
		Params:     rule.Params,
		Timestamp:  now,
	}, nil
}

// Execute carries out a decision against the confirm. The execution is
// recorded before the effect is applied, so a failing rule still burns its
// cooldown and daily budget instead of retrying unbounded.
func (s *AutomationService) Execute(ctx context.Context, c *confirm.Confirm, d *automation.DecisionResult) automation.ExecutionResult {
	start := s.clock.Now()
	result := automation.ExecutionResult{
		Decision:   d.Decision,
		RuleID:     d.RuleID,
		ConfirmID:  c.ID,
		Confidence: d.Confidence,
	}
	s.record(d.RuleID, c.ID, d.Decision, start)

	err := s.apply(ctx, c, d)
	result.ExecutionTime = s.clock.Now().Sub(start)
	if err != nil {
		result.Error = err.Error()
		slog.Warn("automation execution failed",
			"rule_id", d.RuleID,
			"confirm_id", c.ID,
			"decision", d.Decision,
			"error", err,
		)
		return result
	}

	result.Success = true
	result.Message = fmt.Sprintf("executed %s", d.Decision)
	return result
}

// ProcessAll evaluates and executes automation across all active
// confirmations. Intended to run on a scheduler tick.
func (s *AutomationService) ProcessAll(ctx context.Context) error {
	active, err := s.confirms.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active confirms: %w", err)
	}
	for _, c := range active {
		d, err := s.Evaluate(ctx, c)
		if err != nil {
			slog.Warn("automation evaluation failed", "confirm_id", c.ID, "error", err)
			continue
		}
		if d == nil || d.Decision == automation.DecisionNoAction {
			continue
		}
		s.Execute(ctx, c, d)
	}
	return nil
}

// Statistics summarizes recorded automation executions.
func (s *AutomationService) Statistics() *automation.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &automation.Statistics{
		TotalExecutions: len(s.executions),
		RuleUsage:       make(map[string]int),
		Breakdown:       make(map[automation.DecisionType]int),
		Timestamp:       s.clock.Now(),
	}
	for _, e := range s.executions {
		stats.RuleUsage[e.RuleID]++
		stats.Breakdown[e.Decision]++
	}
	return stats
}

// score computes the decision confidence from the timeout posture and the
// confirm's priority, clamped to [0,1].
func (s *AutomationService) score(c *confirm.Confirm, check timeout.Check) (float64, []string) {
	confidence := s.weights.Base
	reasoning := []string{fmt.Sprintf("base confidence %.2f", s.weights.Base)}

	switch check.Result {
	case timeout.ResultExpired:
		confidence += s.weights.Expired
		reasoning = append(reasoning, "confirmation expired")
	case timeout.ResultCritical:
		confidence += s.weights.Critical
		reasoning = append(reasoning, "confirmation critically overdue")
	case timeout.ResultWarning:
		confidence += s.weights.Warning
		reasoning = append(reasoning, "confirmation approaching deadline")
	}

	switch c.Priority {
	case confirm.PriorityUrgent:
		confidence += s.weights.Urgent
		reasoning = append(reasoning, "urgent priority")
	case confirm.PriorityHigh:
		confidence += s.weights.High
		reasoning = append(reasoning, "high priority")
	case confirm.PriorityLow:
		confidence += s.weights.Low
		reasoning = append(reasoning, "low priority")
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence, reasoning
}

// withinLimits checks the rule's cooldown, per-day, and per-confirm caps.
// Each exhausted limit independently excludes the rule.
func (s *AutomationService) withinLimits(r *automation.Rule, confirmID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var today, forConfirm int
	var last time.Time
	dayStart := now.Truncate(24 * time.Hour)
	for _, e := range s.executions {
		if e.RuleID != r.ID {
			continue
		}
		if e.At.After(last) {
			last = e.At
		}
		if !e.At.Before(dayStart) {
			today++
		}
		if e.ConfirmID == confirmID {
			forConfirm++
		}
	}

	if r.Limits.Cooldown > 0 && !last.IsZero() && now.Sub(last) < r.Limits.Cooldown {
		return false
	}
	if r.Limits.MaxPerDay > 0 && today >= r.Limits.MaxPerDay {
		return false
	}
	if r.Limits.MaxPerConfirm > 0 && forConfirm >= r.Limits.MaxPerConfirm {
		return false
	}
	return true
}

func (s *AutomationService) record(ruleID, confirmID string, d automation.DecisionType, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, execRecord{
		RuleID:    ruleID,
		ConfirmID: confirmID,
		Decision:  d,
		At:        at,
	})
}

// apply performs the concrete effect of a decision.
func (s *AutomationService) apply(ctx context.Context, c *confirm.Confirm, d *automation.DecisionResult) error {
	now := s.clock.Now()
	switch d.Decision {
	case automation.DecisionAutoApprove:
		return s.decide(ctx, c, confirm.StatusApproved, confirm.OutcomeApproved, d, now)
	case automation.DecisionAutoReject:
		return s.decide(ctx, c, confirm.StatusRejected, confirm.OutcomeRejected, d, now)
	case automation.DecisionEscalate:
		if s.escalations == nil {
			return fmt.Errorf("no escalation engine configured: %w", domain.ErrInvalidState)
		}
		res, err := s.escalations.Trigger(ctx, c.ID, "", escalation.TypeAutomatic)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("escalation for %s not started: %s: %w", c.ID, res.Message, domain.ErrInvalidState)
		}
		return nil
	case automation.DecisionSendReminder:
		if s.notify == nil {
			return notifier.ErrNotConfigured
		}
		prio := notificationPriority(event.TypeReminderSent)
		_, err := s.notify.Notify(ctx, notifier.Request{
			ConfirmID:  c.ID,
			EventType:  event.TypeReminderSent,
			Recipients: recipientsOf(c),
			Channels:   channelsFor(prio),
			Priority:   prio,
			Subject:    fmt.Sprintf("Reminder: confirmation %s awaits a decision", c.ID),
			Body:       fmt.Sprintf("Confirmation %s (%s) is still pending.", c.ID, c.Type),
		})
		if err != nil {
			return err
		}
		s.emit(ctx, event.Data{Type: event.TypeReminderSent, ConfirmID: c.ID, ContextID: c.ContextID})
		return nil
	case automation.DecisionExtendDeadline:
		by := 24 * time.Hour
		if hours, ok := d.Params["extend_hours"].(float64); ok && hours > 0 {
			by = time.Duration(hours * float64(time.Hour))
		}
		if err := c.ExtendDeadline(by, now); err != nil {
			return err
		}
		if err := s.confirms.Update(ctx, c); err != nil {
			return err
		}
		s.emit(ctx, event.Data{
			Type:            event.TypeDeadlineExtended,
			ConfirmID:       c.ID,
			ContextID:       c.ContextID,
			TimeoutDuration: by,
		})
		return nil
	case automation.DecisionCancel:
		if err := c.Cancel(now); err != nil {
			return err
		}
		if err := s.confirms.Update(ctx, c); err != nil {
			return err
		}
		s.emit(ctx, event.Data{
			Type:      event.TypeConfirmationCancelled,
			ConfirmID: c.ID,
			ContextID: c.ContextID,
			Status:    c.Status,
		})
		return nil
	case automation.DecisionNoAction:
		return nil
	default:
		return fmt.Errorf("unknown decision %q: %w", d.Decision, domain.ErrValidation)
	}
}

// decide drives the confirm to a terminal verdict through the state machine.
func (s *AutomationService) decide(ctx context.Context, c *confirm.Confirm, status confirm.Status, outcome confirm.DecisionOutcome, d *automation.DecisionResult, now time.Time) error {
	if c.Status == confirm.StatusPending {
		if err := c.UpdateStatus(confirm.StatusInReview, now); err != nil {
			return err
		}
	}
	if c.Status == confirm.StatusEscalated {
		if err := c.UpdateStatus(confirm.StatusInReview, now); err != nil {
			return err
		}
	}
	if err := c.SetDecision(confirm.Decision{
		Outcome:   outcome,
		Comments:  fmt.Sprintf("automated by rule %s (confidence %.2f)", d.RuleID, d.Confidence),
		DecidedBy: "system",
	}, now); err != nil {
		return err
	}
	if err := c.UpdateStatus(status, now); err != nil {
		return err
	}
	if err := s.confirms.Update(ctx, c); err != nil {
		return err
	}

	evType := event.TypeConfirmationApproved
	if status == confirm.StatusRejected {
		evType = event.TypeConfirmationRejected
	}
	s.emit(ctx, event.Data{
		Type:      evType,
		ConfirmID: c.ID,
		ContextID: c.ContextID,
		Status:    c.Status,
		Decision:  string(outcome),
	})
	return nil
}

func (s *AutomationService) emit(ctx context.Context, data event.Data) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, data); err != nil {
		slog.Warn("automation event emit failed", "event_type", data.Type, "error", err)
	}
}

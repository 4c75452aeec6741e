package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/confirmd/confirmd/internal/adapter/otel"
	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/domain"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/escalation"
	"github.com/confirmd/confirmd/internal/domain/event"
	"github.com/confirmd/confirmd/internal/port/notifier"
	"github.com/confirmd/confirmd/internal/port/repository"
)

// Emitter publishes lifecycle events into the event pipeline.
type Emitter interface {
	Emit(ctx context.Context, data event.Data) error
}

// EscalationEngine runs escalation rules against confirmations. At most one
// escalation instance per confirm may be in progress at any time, and an
// instance's level never decreases.
type EscalationEngine struct {
	rules     repository.RuleStore[escalation.Rule]
	instances repository.InstanceStore
	confirms  repository.ConfirmStore
	notify    notifier.Service
	emitter   Emitter
	clock     clock.Clock
}

func NewEscalationEngine(
	rules repository.RuleStore[escalation.Rule],
	instances repository.InstanceStore,
	confirms repository.ConfirmStore,
	notify notifier.Service,
	emitter Emitter,
	clk clock.Clock,
) *EscalationEngine {
	if clk == nil {
		clk = clock.System{}
	}
	return &EscalationEngine{
		rules:     rules,
		instances: instances,
		confirms:  confirms,
		notify:    notify,
		emitter:   emitter,
		clock:     clk,
	}
}

// AddRule registers or replaces an escalation rule.
func (e *EscalationEngine) AddRule(ctx context.Context, r escalation.Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required: %w", domain.ErrValidation)
	}
	if len(r.Path) == 0 {
		return fmt.Errorf("rule %s has an empty escalation path: %w", r.ID, domain.ErrValidation)
	}
	return e.rules.Put(ctx, r.ID, r)
}

// RemoveRule deletes an escalation rule.
func (e *EscalationEngine) RemoveRule(ctx context.Context, id string) error {
	return e.rules.Delete(ctx, id)
}

// Trigger opens an escalation instance for the confirm under the given rule
// and runs the first level. An empty ruleID selects the highest-priority
// rule matching the confirm. A confirm with an in-progress escalation is not
// escalated again; the existing instance is reported instead.
func (e *EscalationEngine) Trigger(ctx context.Context, confirmID, ruleID string, escType escalation.Type) (*escalation.Result, error) {
	ctx, span := otel.StartEscalationSpan(ctx, confirmID, ruleID)
	defer span.End()

	c, err := e.confirms.Get(ctx, confirmID)
	if err != nil {
		return nil, err
	}

	var rule escalation.Rule
	if ruleID == "" {
		matched, err := e.MatchRule(ctx, c)
		if err != nil {
			return nil, err
		}
		if matched == nil {
			return &escalation.Result{
				Success: false,
				Message: "no applicable escalation rule",
			}, nil
		}
		rule = *matched
	} else {
		rule, err = e.rules.Get(ctx, ruleID)
		if err != nil {
			return nil, err
		}
	}

	now := e.clock.Now()
	history, err := e.instances.ListByConfirm(ctx, confirmID)
	if err != nil {
		return nil, err
	}

	if inst := inProgress(history); inst != nil {
		return &escalation.Result{
			Success:      false,
			EscalationID: inst.ID,
			CurrentLevel: inst.CurrentLevel,
			Message:      "escalation already in progress",
		}, nil
	}
	if rule.MaxEscalations > 0 && len(history) >= rule.MaxEscalations {
		return &escalation.Result{
			Success: false,
			Message: fmt.Sprintf("max escalations (%d) reached", rule.MaxEscalations),
		}, nil
	}
	if rule.MinInterval > 0 {
		if last := latest(history); last != nil && now.Sub(last.CreatedAt) < rule.MinInterval {
			return &escalation.Result{
				Success: false,
				Message: "minimum escalation interval not elapsed",
			}, nil
		}
	}

	inst := &escalation.Instance{
		ID:           uuid.NewString(),
		ConfirmID:    confirmID,
		RuleID:       rule.ID,
		Type:         escType,
		Status:       escalation.StatusInProgress,
		Strategy:     rule.Strategy,
		CurrentLevel: 0,
		MaxLevel:     len(rule.Path) - 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if c.Status == confirm.StatusInReview {
		if err := c.UpdateStatus(confirm.StatusEscalated, now); err == nil {
			if err := e.confirms.Update(ctx, c); err != nil {
				slog.Warn("escalation: status update failed", "confirm_id", c.ID, "error", err)
			}
		}
	}

	result := e.runLevel(ctx, c, &rule, inst)
	if err := e.instances.Put(ctx, inst); err != nil {
		return nil, fmt.Errorf("persist escalation: %w", err)
	}

	e.emit(ctx, event.Data{
		Type:            event.TypeEscalationTriggered,
		ConfirmID:       c.ID,
		ContextID:       c.ContextID,
		Status:          c.Status,
		EscalationLevel: inst.CurrentLevel,
	})
	return result, nil
}

// Advance moves an in-progress escalation to its next level and runs it.
// The level only ever increases; advancing past the last level completes
// the instance.
func (e *EscalationEngine) Advance(ctx context.Context, escalationID string) (*escalation.Result, error) {
	inst, err := e.instances.Get(ctx, escalationID)
	if err != nil {
		return nil, err
	}
	if inst.Status != escalation.StatusInProgress {
		return nil, fmt.Errorf("escalation %s is %s: %w", inst.ID, inst.Status, domain.ErrInvalidState)
	}

	now := e.clock.Now()
	if inst.CurrentLevel >= inst.MaxLevel {
		e.complete(ctx, inst, now)
		return &escalation.Result{
			Success:      true,
			EscalationID: inst.ID,
			CurrentLevel: inst.CurrentLevel,
			Message:      "escalation path exhausted",
		}, nil
	}

	c, err := e.confirms.Get(ctx, inst.ConfirmID)
	if err != nil {
		return nil, err
	}
	rule, err := e.rules.Get(ctx, inst.RuleID)
	if err != nil {
		return nil, err
	}

	inst.CurrentLevel++
	inst.UpdatedAt = now
	result := e.runLevel(ctx, c, &rule, inst)
	if err := e.instances.Put(ctx, inst); err != nil {
		return nil, fmt.Errorf("persist escalation: %w", err)
	}
	return result, nil
}

// Cancel aborts an in-progress escalation.
func (e *EscalationEngine) Cancel(ctx context.Context, escalationID string) error {
	inst, err := e.instances.Get(ctx, escalationID)
	if err != nil {
		return err
	}
	if inst.Status != escalation.StatusInProgress && inst.Status != escalation.StatusPending {
		return fmt.Errorf("escalation %s is %s: %w", inst.ID, inst.Status, domain.ErrInvalidState)
	}
	now := e.clock.Now()
	inst.Status = escalation.StatusCancelled
	inst.UpdatedAt = now
	inst.CompletedAt = &now
	return e.instances.Put(ctx, inst)
}

// ActiveFor returns the in-progress escalation for a confirm, or nil.
func (e *EscalationEngine) ActiveFor(ctx context.Context, confirmID string) (*escalation.Instance, error) {
	history, err := e.instances.ListByConfirm(ctx, confirmID)
	if err != nil {
		return nil, err
	}
	return inProgress(history), nil
}

// Process advances every in-progress escalation whose current level has
// outlived its timeout. Intended to run on a scheduler tick.
func (e *EscalationEngine) Process(ctx context.Context) error {
	instances, err := e.instances.List(ctx)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	for _, inst := range instances {
		if inst.Status != escalation.StatusInProgress {
			continue
		}
		rule, err := e.rules.Get(ctx, inst.RuleID)
		if err != nil {
			slog.Warn("escalation process: rule missing", "escalation_id", inst.ID, "rule_id", inst.RuleID)
			continue
		}
		lvl := rule.Path[inst.CurrentLevel]
		started := levelStart(inst)
		if lvl.Timeout > 0 && now.Sub(started) >= lvl.Timeout {
			if _, err := e.Advance(ctx, inst.ID); err != nil {
				slog.Warn("escalation advance failed", "escalation_id", inst.ID, "error", err)
			}
		}
	}
	return nil
}

// MatchRule returns the highest-priority enabled rule whose triggers accept
// the confirm, or nil when none match.
func (e *EscalationEngine) MatchRule(ctx context.Context, c *confirm.Confirm) (*escalation.Rule, error) {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	for i := range rules {
		if rules[i].Enabled && rules[i].Matches(c) {
			return &rules[i], nil
		}
	}
	return nil, nil
}

// Statistics summarizes escalation activity across all instances.
func (e *EscalationEngine) Statistics(ctx context.Context) (*escalation.Statistics, error) {
	instances, err := e.instances.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &escalation.Statistics{Timestamp: e.clock.Now()}
	var totalTime time.Duration
	var timed int
	for _, inst := range instances {
		stats.Total++
		switch inst.Status {
		case escalation.StatusInProgress, escalation.StatusPending:
			stats.Active++
		case escalation.StatusCompleted:
			stats.Completed++
		case escalation.StatusFailed:
			stats.Failed++
		}
		if inst.CompletedAt != nil {
			totalTime += inst.CompletedAt.Sub(inst.CreatedAt)
			timed++
		}
	}
	if timed > 0 {
		stats.AverageTime = totalTime / time.Duration(timed)
	}
	if done := stats.Completed + stats.Failed; done > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(done)
	}
	return stats, nil
}

// runLevel executes every action of the instance's current level in order,
// waiting out each action's delay first. Action failures mark the level's
// history entry failed and are counted; they never abort the level, and the
// instance still advances.
func (e *EscalationEngine) runLevel(ctx context.Context, c *confirm.Confirm, rule *escalation.Rule, inst *escalation.Instance) *escalation.Result {
	now := e.clock.Now()
	lvl := rule.Path[inst.CurrentLevel]
	entry := escalation.HistoryEntry{
		Level:     lvl.Level,
		StartedAt: now,
		Status:    escalation.StatusInProgress,
		Targets:   lvl.Targets.List(),
		Actions:   lvl.Actions,
	}

	result := &escalation.Result{
		Success:      true,
		EscalationID: inst.ID,
		CurrentLevel: inst.CurrentLevel,
	}
	if inst.CurrentLevel < inst.MaxLevel {
		result.NextLevel = inst.CurrentLevel + 1
	}

	for _, action := range lvl.Actions {
		if action.Delay > 0 {
			if err := e.clock.Sleep(ctx, action.Delay); err != nil {
				slog.Warn("escalation action delay interrupted",
					"escalation_id", inst.ID,
					"level", lvl.Level,
					"action", action.Kind,
					"error", err,
				)
				result.FailedActions++
				continue
			}
		}
		if err := e.runAction(ctx, c, lvl, action); err != nil {
			slog.Warn("escalation action failed",
				"escalation_id", inst.ID,
				"level", lvl.Level,
				"action", action.Kind,
				"error", err,
			)
			result.FailedActions++
			continue
		}
		result.CompletedActions++
	}

	done := e.clock.Now()
	entry.CompletedAt = &done
	entry.Status = escalation.StatusCompleted
	if result.FailedActions > 0 {
		entry.Status = escalation.StatusFailed
	}
	inst.History = append(inst.History, entry)
	inst.UpdatedAt = done

	// A terminal action resolves the confirm and with it the escalation.
	if resolved(c) || inst.CurrentLevel >= inst.MaxLevel && allLevelsRun(inst) {
		e.complete(ctx, inst, done)
	}
	return result
}

// runAction executes one escalation effect against the confirm.
func (e *EscalationEngine) runAction(ctx context.Context, c *confirm.Confirm, lvl escalation.Level, action escalation.Action) error {
	now := e.clock.Now()
	switch action.Kind {
	case escalation.ActionNotify:
		if e.notify == nil {
			return notifier.ErrNotConfigured
		}
		_, err := e.notify.Notify(ctx, notifier.Request{
			ConfirmID:  c.ID,
			EventType:  event.TypeEscalationTriggered,
			Recipients: lvl.Targets.List(),
			Channels:   []notifier.Channel{notifier.ChannelWebsocket, notifier.ChannelEmail},
			Priority:   c.Priority,
			Subject:    fmt.Sprintf("Escalation: confirmation %s requires attention", c.ID),
			Body:       fmt.Sprintf("Confirmation %s (%s) escalated to level %d.", c.ID, c.Type, lvl.Level),
		})
		return err
	case escalation.ActionAutoApprove:
		return e.resolve(ctx, c, confirm.StatusApproved, confirm.OutcomeApproved, now)
	case escalation.ActionAutoReject:
		return e.resolve(ctx, c, confirm.StatusRejected, confirm.OutcomeRejected, now)
	case escalation.ActionReassign:
		userID, _ := action.Params["user_id"].(string)
		if userID == "" {
			return fmt.Errorf("reassign without user_id: %w", domain.ErrValidation)
		}
		c.Approver = confirm.Approver{UserID: userID, IsRequired: true}
		c.UpdatedAt = now
		if err := e.confirms.Update(ctx, c); err != nil {
			return err
		}
		e.emit(ctx, event.Data{
			Type:           event.TypeApproverAssigned,
			ConfirmID:      c.ID,
			ContextID:      c.ContextID,
			ApproverUserID: userID,
		})
		return nil
	case escalation.ActionCancel:
		if err := c.Cancel(now); err != nil {
			return err
		}
		if err := e.confirms.Update(ctx, c); err != nil {
			return err
		}
		e.emit(ctx, event.Data{
			Type:      event.TypeConfirmationCancelled,
			ConfirmID: c.ID,
			ContextID: c.ContextID,
			Status:    c.Status,
		})
		return nil
	default:
		return fmt.Errorf("unknown escalation action %q: %w", action.Kind, domain.ErrValidation)
	}
}

// resolve drives an escalated or in-review confirm to a terminal verdict.
func (e *EscalationEngine) resolve(ctx context.Context, c *confirm.Confirm, status confirm.Status, outcome confirm.DecisionOutcome, now time.Time) error {
	if c.Status == confirm.StatusEscalated {
		if err := c.UpdateStatus(confirm.StatusInReview, now); err != nil {
			return err
		}
	}
	if err := c.SetDecision(confirm.Decision{
		Outcome:   outcome,
		Comments:  "resolved by escalation policy",
		DecidedBy: "system",
	}, now); err != nil {
		return err
	}
	if err := c.UpdateStatus(status, now); err != nil {
		return err
	}
	if err := e.confirms.Update(ctx, c); err != nil {
		return err
	}

	evType := event.TypeConfirmationApproved
	if status == confirm.StatusRejected {
		evType = event.TypeConfirmationRejected
	}
	e.emit(ctx, event.Data{
		Type:      evType,
		ConfirmID: c.ID,
		ContextID: c.ContextID,
		Status:    c.Status,
		Decision:  string(outcome),
	})
	return nil
}

func (e *EscalationEngine) complete(ctx context.Context, inst *escalation.Instance, now time.Time) {
	inst.Status = escalation.StatusCompleted
	inst.UpdatedAt = now
	inst.CompletedAt = &now
	e.emit(ctx, event.Data{
		Type:            event.TypeEscalationCompleted,
		ConfirmID:       inst.ConfirmID,
		EscalationLevel: inst.CurrentLevel,
	})
}

func (e *EscalationEngine) emit(ctx context.Context, data event.Data) {
	if e.emitter == nil {
		return
	}
	if err := e.emitter.Emit(ctx, data); err != nil {
		slog.Warn("escalation event emit failed", "event_type", data.Type, "error", err)
	}
}

func inProgress(instances []*escalation.Instance) *escalation.Instance {
	for _, inst := range instances {
		if inst.Status == escalation.StatusInProgress || inst.Status == escalation.StatusPending {
			return inst
		}
	}
	return nil
}

func latest(instances []*escalation.Instance) *escalation.Instance {
	var last *escalation.Instance
	for _, inst := range instances {
		if last == nil || inst.CreatedAt.After(last.CreatedAt) {
			last = inst
		}
	}
	return last
}

// levelStart is when the instance's current level began, which is the most
// recent history entry since a level is run as soon as it is entered.
func levelStart(inst *escalation.Instance) time.Time {
	if n := len(inst.History); n > 0 {
		return inst.History[n-1].StartedAt
	}
	return inst.CreatedAt
}

func resolved(c *confirm.Confirm) bool {
	return !c.IsActive()
}

func allLevelsRun(inst *escalation.Instance) bool {
	return len(inst.History) > inst.MaxLevel
}

package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/confirmd/confirmd/internal/adapter/memory"
	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/domain/automation"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/escalation"
	"github.com/confirmd/confirmd/internal/domain/event"
	"github.com/confirmd/confirmd/internal/domain/timeout"
)

type automationFixture struct {
	svc      *AutomationService
	engine   *EscalationEngine
	confirms *memory.ConfirmStore
	notify   *fakeNotifier
	emitter  *fakeEmitter
	clk      *clock.Fake
}

func newAutomationFixture(t *testing.T, now time.Time) *automationFixture {
	t.Helper()
	f := &automationFixture{
		confirms: memory.NewConfirmStore(),
		notify:   &fakeNotifier{},
		emitter:  &fakeEmitter{},
		clk:      clock.NewFake(now),
	}
	timeouts := NewTimeoutService(memory.NewRuleStore[timeout.Rule](), f.confirms, f.clk, DefaultTimeoutDefaults())
	f.engine = NewEscalationEngine(
		memory.NewRuleStore[escalation.Rule](),
		memory.NewInstanceStore(),
		f.confirms,
		f.notify,
		f.emitter,
		f.clk,
	)
	f.svc = NewAutomationService(
		memory.NewRuleStore[automation.Rule](),
		f.confirms,
		timeouts,
		f.engine,
		f.notify,
		f.emitter,
		f.clk,
		automation.DefaultWeights(),
	)
	return f
}

func reminderRule(id string, threshold float64) automation.Rule {
	return automation.Rule{
		ID:                  id,
		Name:                "remind stale confirms",
		Trigger:             automation.TriggerTimeout,
		Decision:            automation.DecisionSendReminder,
		ConfidenceThreshold: threshold,
		Enabled:             true,
	}
}

func TestAutomationConfidenceScoring(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		priority confirm.Priority
		want     float64
	}{
		{"fresh medium is base only", t0.Add(time.Hour), confirm.PriorityMedium, 0.5},
		{"fresh low drops below base", t0.Add(time.Hour), confirm.PriorityLow, 0.4},
		{"warning high", t0.Add(23*time.Hour + 30*time.Minute), confirm.PriorityHigh, 0.7},
		{"expired urgent saturates", t0.Add(25 * time.Hour), confirm.PriorityUrgent, 1.0},
		{"critical urgent clamps at one", t0.Add(49 * time.Hour), confirm.PriorityUrgent, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAutomationFixture(t, tt.now)
			if err := f.svc.AddRule(context.Background(), reminderRule("r-1", 0)); err != nil {
				t.Fatal(err)
			}

			d, err := f.svc.Evaluate(context.Background(), inReviewConfirm("c-1", tt.priority))
			if err != nil {
				t.Fatal(err)
			}
			if d == nil {
				t.Fatal("expected a decision at zero threshold")
			}
			if math.Abs(d.Confidence-tt.want) > 1e-9 {
				t.Fatalf("confidence = %v, want %v", d.Confidence, tt.want)
			}
		})
	}
}

func TestAutomationThresholdIsHardGate(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))
	if err := f.svc.AddRule(ctx, reminderRule("strict", 0.9)); err != nil {
		t.Fatal(err)
	}

	// A fresh medium confirm scores 0.5, below the 0.9 gate.
	d, err := f.svc.Evaluate(ctx, inReviewConfirm("c-1", confirm.PriorityMedium))
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("decision produced below threshold: %+v", d)
	}
}

func TestAutomationBelowThresholdDoesNotFallThrough(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))

	strict := reminderRule("strict", 0.9)
	strict.Priority = 10
	strict.Decision = automation.DecisionAutoApprove
	lax := reminderRule("lax", 0)
	lax.Priority = 1
	for _, r := range []automation.Rule{strict, lax} {
		if err := f.svc.AddRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	// A fresh medium confirm scores 0.5. The top rule's gate withholds the
	// decision entirely; the laxer lower-priority rule must not take over.
	d, err := f.svc.Evaluate(ctx, inReviewConfirm("c-1", confirm.PriorityMedium))
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("decision fell through to a lower-priority rule: %+v", d)
	}
}

func TestAutomationFailedExecutionStillCounted(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))

	rule := reminderRule("r-1", 0)
	rule.Decision = automation.DecisionEscalate
	rule.Limits = automation.Limits{MaxPerConfirm: 1}
	if err := f.svc.AddRule(ctx, rule); err != nil {
		t.Fatal(err)
	}
	c := inReviewConfirm("c-1", confirm.PriorityMedium)
	if err := f.confirms.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	d, err := f.svc.Evaluate(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil {
		t.Fatal("evaluation produced no decision")
	}

	// No escalation rule exists, so the execution fails. It still burns the
	// per-confirm budget instead of retrying every sweep.
	res := f.svc.Execute(ctx, c, d)
	if res.Success {
		t.Fatal("escalation without a matching rule succeeded")
	}
	if stats := f.svc.Statistics(); stats.TotalExecutions != 1 {
		t.Fatalf("executions = %d, want 1", stats.TotalExecutions)
	}

	again, err := f.svc.Evaluate(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatalf("failed execution did not count toward limits: %+v", again)
	}
}

func TestAutomationTerminalConfirmSkipped(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))
	if err := f.svc.AddRule(ctx, reminderRule("r-1", 0)); err != nil {
		t.Fatal(err)
	}

	c := inReviewConfirm("c-1", confirm.PriorityMedium)
	c.Status = confirm.StatusApproved
	d, err := f.svc.Evaluate(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("terminal confirm evaluated: %+v", d)
	}
}

func TestAutomationRulePriorityOrder(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))

	low := reminderRule("low", 0)
	low.Priority = 1
	high := reminderRule("high", 0)
	high.Priority = 10
	for _, r := range []automation.Rule{low, high} {
		if err := f.svc.AddRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	d, err := f.svc.Evaluate(ctx, inReviewConfirm("c-1", confirm.PriorityMedium))
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.RuleID != "high" {
		t.Fatalf("decision = %+v, want rule high", d)
	}
}

func TestAutomationExecuteAutoApprove(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))

	c := inReviewConfirm("c-1", confirm.PriorityMedium)
	c.Status = confirm.StatusPending
	if err := f.confirms.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	d := &automation.DecisionResult{
		RuleID:     "r-1",
		Decision:   automation.DecisionAutoApprove,
		Confidence: 0.8,
	}
	res := f.svc.Execute(ctx, c, d)
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}

	got, err := f.confirms.Get(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != confirm.StatusApproved {
		t.Fatalf("status = %s, want approved", got.Status)
	}
	if got.Decision == nil || got.Decision.DecidedBy != "system" {
		t.Fatalf("decision = %+v", got.Decision)
	}
	if !f.emitter.has(event.TypeConfirmationApproved) {
		t.Fatal("confirmation_approved not emitted")
	}

	stats := f.svc.Statistics()
	if stats.TotalExecutions != 1 || stats.Breakdown[automation.DecisionAutoApprove] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAutomationExecuteExtendDeadline(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))

	c := inReviewConfirm("c-1", confirm.PriorityMedium)
	deadline := t0.Add(24 * time.Hour)
	c.ExpiresAt = &deadline
	if err := f.confirms.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	d := &automation.DecisionResult{
		RuleID:   "r-1",
		Decision: automation.DecisionExtendDeadline,
		Params:   map[string]any{"extend_hours": float64(48)},
	}
	res := f.svc.Execute(ctx, c, d)
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}

	got, err := f.confirms.Get(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	want := deadline.Add(48 * time.Hour)
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(want) {
		t.Fatalf("deadline = %v, want %v", got.ExpiresAt, want)
	}
	if !f.emitter.has(event.TypeDeadlineExtended) {
		t.Fatal("deadline_extended not emitted")
	}
}

func TestAutomationPerConfirmLimit(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))

	rule := reminderRule("r-1", 0)
	rule.Limits = automation.Limits{MaxPerConfirm: 1}
	if err := f.svc.AddRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	c := inReviewConfirm("c-1", confirm.PriorityMedium)
	if err := f.confirms.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	d, err := f.svc.Evaluate(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil {
		t.Fatal("first evaluation produced no decision")
	}
	if res := f.svc.Execute(ctx, c, d); !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}

	again, err := f.svc.Evaluate(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatalf("per-confirm limit ignored: %+v", again)
	}

	// Another confirm is still eligible.
	other := inReviewConfirm("c-2", confirm.PriorityMedium)
	d2, err := f.svc.Evaluate(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if d2 == nil {
		t.Fatal("limit on one confirm leaked to another")
	}
}

func TestAutomationCooldown(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))

	rule := reminderRule("r-1", 0)
	rule.Limits = automation.Limits{Cooldown: time.Hour}
	if err := f.svc.AddRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	c := inReviewConfirm("c-1", confirm.PriorityMedium)
	if err := f.confirms.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	d, err := f.svc.Evaluate(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	f.svc.Execute(ctx, c, d)

	f.clk.Advance(10 * time.Minute)
	if d, _ := f.svc.Evaluate(ctx, c); d != nil {
		t.Fatalf("cooldown ignored: %+v", d)
	}

	f.clk.Advance(time.Hour)
	if d, _ := f.svc.Evaluate(ctx, c); d == nil {
		t.Fatal("rule still blocked after cooldown elapsed")
	}
}

func TestAutomationEscalateDecision(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(time.Hour))

	if err := f.engine.AddRule(ctx, twoLevelRule("esc-1")); err != nil {
		t.Fatal(err)
	}
	c := inReviewConfirm("c-1", confirm.PriorityHigh)
	if err := f.confirms.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	d := &automation.DecisionResult{RuleID: "r-1", Decision: automation.DecisionEscalate}
	res := f.svc.Execute(ctx, c, d)
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}

	inst, err := f.engine.ActiveFor(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if inst == nil || inst.Type != escalation.TypeAutomatic {
		t.Fatalf("instance = %+v, want automatic escalation", inst)
	}
}

func TestAutomationProcessAll(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0.Add(25*time.Hour))

	rule := reminderRule("r-1", 0.7)
	if err := f.svc.AddRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	// Expired medium scores 0.8 and clears the gate; a fresh one scores 0.5
	// and is withheld.
	stale := inReviewConfirm("stale", confirm.PriorityMedium)
	freshC := inReviewConfirm("fresh", confirm.PriorityMedium)
	freshC.CreatedAt = t0.Add(24 * time.Hour)
	for _, c := range []*confirm.Confirm{stale, freshC} {
		if err := f.confirms.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.svc.ProcessAll(ctx); err != nil {
		t.Fatal(err)
	}

	sent := f.notify.sent()
	if len(sent) != 1 || sent[0].ConfirmID != "stale" {
		t.Fatalf("reminders = %+v, want one for stale", sent)
	}
	if !f.emitter.has(event.TypeReminderSent) {
		t.Fatal("reminder_sent not emitted")
	}
}

func TestAutomationAddRuleValidation(t *testing.T) {
	ctx := context.Background()
	f := newAutomationFixture(t, t0)

	if err := f.svc.AddRule(ctx, automation.Rule{}); err == nil {
		t.Fatal("rule without id accepted")
	}
	if err := f.svc.AddRule(ctx, automation.Rule{ID: "r", ConfidenceThreshold: 1.5}); err == nil {
		t.Fatal("threshold above 1 accepted")
	}
}

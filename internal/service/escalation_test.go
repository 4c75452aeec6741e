package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/confirmd/confirmd/internal/adapter/memory"
	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/escalation"
	"github.com/confirmd/confirmd/internal/domain/event"
)

type escalationFixture struct {
	engine   *EscalationEngine
	confirms *memory.ConfirmStore
	notify   *fakeNotifier
	emitter  *fakeEmitter
	clk      *clock.Fake
}

func newEscalationFixture(t *testing.T) *escalationFixture {
	t.Helper()
	f := &escalationFixture{
		confirms: memory.NewConfirmStore(),
		notify:   &fakeNotifier{},
		emitter:  &fakeEmitter{},
		clk:      clock.NewFake(t0),
	}
	f.engine = NewEscalationEngine(
		memory.NewRuleStore[escalation.Rule](),
		memory.NewInstanceStore(),
		f.confirms,
		f.notify,
		f.emitter,
		f.clk,
	)
	return f
}

func twoLevelRule(id string) escalation.Rule {
	return escalation.Rule{
		ID:       id,
		Name:     "notify then reject",
		Strategy: escalation.StrategySequential,
		Enabled:  true,
		Path: []escalation.Level{
			{
				Level:   1,
				Targets: escalation.Targets{UserIDs: []string{"u-lead"}, Roles: []string{"manager"}},
				Actions: []escalation.Action{{Kind: escalation.ActionNotify}},
				Timeout: time.Hour,
			},
			{
				Level:   2,
				Targets: escalation.Targets{Roles: []string{"director"}},
				Actions: []escalation.Action{{Kind: escalation.ActionAutoReject}},
				Timeout: time.Hour,
			},
		},
	}
}

func (f *escalationFixture) seed(t *testing.T, c *confirm.Confirm, rule escalation.Rule) {
	t.Helper()
	ctx := context.Background()
	if err := f.confirms.Create(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.AddRule(ctx, rule); err != nil {
		t.Fatal(err)
	}
}

func TestEscalationTrigger(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	c := inReviewConfirm("c-1", confirm.PriorityHigh)
	f.seed(t, c, twoLevelRule("r-1"))

	res, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("trigger failed: %+v", res)
	}
	if res.CurrentLevel != 0 || res.NextLevel != 1 {
		t.Fatalf("levels = %d/%d, want 0/1", res.CurrentLevel, res.NextLevel)
	}
	if res.CompletedActions != 1 || res.FailedActions != 0 {
		t.Fatalf("actions = %d ok / %d failed", res.CompletedActions, res.FailedActions)
	}

	got, err := f.confirms.Get(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != confirm.StatusEscalated {
		t.Fatalf("confirm status = %s, want escalated", got.Status)
	}

	sent := f.notify.sent()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	wantRecipients := []string{"u-lead", "role:manager"}
	if len(sent[0].Recipients) != len(wantRecipients) {
		t.Fatalf("recipients = %v", sent[0].Recipients)
	}
	for i, r := range wantRecipients {
		if sent[0].Recipients[i] != r {
			t.Fatalf("recipients = %v, want %v", sent[0].Recipients, wantRecipients)
		}
	}

	if !f.emitter.has(event.TypeEscalationTriggered) {
		t.Fatal("escalation_triggered not emitted")
	}
}

func TestEscalationSingleInProgress(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	f.seed(t, inReviewConfirm("c-1", confirm.PriorityHigh), twoLevelRule("r-1"))

	first, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}

	second, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if second.Success {
		t.Fatal("second trigger succeeded while first is in progress")
	}
	if second.EscalationID != first.EscalationID {
		t.Fatalf("expected existing instance %s, got %s", first.EscalationID, second.EscalationID)
	}
	if second.Message != "escalation already in progress" {
		t.Fatalf("message = %q", second.Message)
	}
}

func TestEscalationMaxEscalations(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	rule := twoLevelRule("r-1")
	rule.MaxEscalations = 1
	f.seed(t, inReviewConfirm("c-1", confirm.PriorityHigh), rule)

	res, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Cancel(ctx, res.EscalationID); err != nil {
		t.Fatal(err)
	}

	again, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if again.Success {
		t.Fatal("trigger exceeded max escalations")
	}
}

func TestEscalationMinInterval(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	rule := twoLevelRule("r-1")
	rule.MinInterval = time.Hour
	f.seed(t, inReviewConfirm("c-1", confirm.PriorityHigh), rule)

	res, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Cancel(ctx, res.EscalationID); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(30 * time.Minute)
	tooSoon, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if tooSoon.Success {
		t.Fatal("trigger ignored minimum interval")
	}

	f.clk.Advance(time.Hour)
	later, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if !later.Success {
		t.Fatalf("trigger after interval failed: %+v", later)
	}
}

func TestEscalationAdvanceResolvesConfirm(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	f.seed(t, inReviewConfirm("c-1", confirm.PriorityHigh), twoLevelRule("r-1"))

	res, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeTimeBased)
	if err != nil {
		t.Fatal(err)
	}

	// Level 2 auto-rejects.
	adv, err := f.engine.Advance(ctx, res.EscalationID)
	if err != nil {
		t.Fatal(err)
	}
	if adv.CurrentLevel != 1 {
		t.Fatalf("level = %d, want 1", adv.CurrentLevel)
	}

	got, err := f.confirms.Get(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != confirm.StatusRejected {
		t.Fatalf("confirm status = %s, want rejected", got.Status)
	}
	if got.Decision == nil || got.Decision.Outcome != confirm.OutcomeRejected {
		t.Fatalf("decision = %+v", got.Decision)
	}
	if !f.emitter.has(event.TypeConfirmationRejected) {
		t.Fatal("confirmation_rejected not emitted")
	}
	if !f.emitter.has(event.TypeEscalationCompleted) {
		t.Fatal("escalation_completed not emitted")
	}

	// The instance is terminal; a further advance is invalid.
	if _, err := f.engine.Advance(ctx, res.EscalationID); err == nil {
		t.Fatal("advance on completed escalation accepted")
	}
}

func TestEscalationActionFailureCounted(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	f.notify.err = errors.New("smtp down")
	f.seed(t, inReviewConfirm("c-1", confirm.PriorityHigh), twoLevelRule("r-1"))

	res, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatal("action failure aborted the escalation")
	}
	if res.FailedActions != 1 || res.CompletedActions != 0 {
		t.Fatalf("actions = %d ok / %d failed, want 0/1", res.CompletedActions, res.FailedActions)
	}

	inst, err := f.engine.ActiveFor(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if inst == nil {
		t.Fatal("escalation not in progress after failed action")
	}
	if len(inst.History) != 1 || inst.History[0].Status != escalation.StatusFailed {
		t.Fatalf("history = %+v, want one failed entry", inst.History)
	}
}

func TestEscalationActionDelayHonored(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	rule := twoLevelRule("r-1")
	rule.Path[0].Actions = []escalation.Action{{Kind: escalation.ActionNotify, Delay: 15 * time.Minute}}
	f.seed(t, inReviewConfirm("c-1", confirm.PriorityHigh), rule)

	res, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeManual)
	if err != nil {
		t.Fatal(err)
	}
	if res.CompletedActions != 1 || res.FailedActions != 0 {
		t.Fatalf("actions = %d ok / %d failed", res.CompletedActions, res.FailedActions)
	}

	// The delay was waited out before the action ran.
	if !f.clk.Now().Equal(t0.Add(15 * time.Minute)) {
		t.Fatalf("clock = %v, want %v", f.clk.Now(), t0.Add(15*time.Minute))
	}
	inst, err := f.engine.ActiveFor(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if inst == nil || len(inst.History) != 1 {
		t.Fatalf("instance = %+v", inst)
	}
	entry := inst.History[0]
	if entry.CompletedAt == nil || entry.CompletedAt.Sub(entry.StartedAt) != 15*time.Minute {
		t.Fatalf("level ran without awaiting the delay: %+v", entry)
	}
	if len(f.notify.sent()) != 1 {
		t.Fatal("delayed action did not run")
	}
}

func TestEscalationTriggerMatchesRuleWhenUnspecified(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)

	broad := twoLevelRule("broad")
	broad.Priority = 1
	urgentOnly := twoLevelRule("urgent-only")
	urgentOnly.Priority = 10
	urgentOnly.Triggers = escalation.Triggers{Priorities: []confirm.Priority{confirm.PriorityUrgent}}
	f.seed(t, inReviewConfirm("c-1", confirm.PriorityUrgent), broad)
	if err := f.engine.AddRule(ctx, urgentOnly); err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.Trigger(ctx, "c-1", "", escalation.TypeAutomatic)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("trigger failed: %+v", res)
	}
	inst, err := f.engine.ActiveFor(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if inst == nil || inst.RuleID != "urgent-only" {
		t.Fatalf("instance = %+v, want rule urgent-only", inst)
	}
}

func TestEscalationTriggerWithoutApplicableRule(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	if err := f.confirms.Create(ctx, inReviewConfirm("c-1", confirm.PriorityLow)); err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.Trigger(ctx, "c-1", "", escalation.TypeAutomatic)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("trigger succeeded with no rules registered")
	}
	if res.Message != "no applicable escalation rule" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestEscalationProcessAdvancesOnLevelTimeout(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)
	f.seed(t, inReviewConfirm("c-1", confirm.PriorityHigh), twoLevelRule("r-1"))

	if _, err := f.engine.Trigger(ctx, "c-1", "r-1", escalation.TypeTimeBased); err != nil {
		t.Fatal(err)
	}

	// Before the level timeout nothing moves.
	f.clk.Advance(30 * time.Minute)
	if err := f.engine.Process(ctx); err != nil {
		t.Fatal(err)
	}
	inst, _ := f.engine.ActiveFor(ctx, "c-1")
	if inst == nil || inst.CurrentLevel != 0 {
		t.Fatalf("instance advanced early: %+v", inst)
	}

	f.clk.Advance(time.Hour)
	if err := f.engine.Process(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := f.confirms.Get(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != confirm.StatusRejected {
		t.Fatalf("confirm status = %s, want rejected after level 2", got.Status)
	}
}

func TestEscalationMatchRule(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)

	broad := twoLevelRule("broad")
	broad.Priority = 1
	urgentOnly := twoLevelRule("urgent-only")
	urgentOnly.Priority = 10
	urgentOnly.Triggers = escalation.Triggers{Priorities: []confirm.Priority{confirm.PriorityUrgent}}
	disabled := twoLevelRule("disabled")
	disabled.Priority = 100
	disabled.Enabled = false

	for _, r := range []escalation.Rule{broad, urgentOnly, disabled} {
		if err := f.engine.AddRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	rule, err := f.engine.MatchRule(ctx, inReviewConfirm("c-1", confirm.PriorityUrgent))
	if err != nil {
		t.Fatal(err)
	}
	if rule == nil || rule.ID != "urgent-only" {
		t.Fatalf("matched %+v, want urgent-only", rule)
	}

	rule, err = f.engine.MatchRule(ctx, inReviewConfirm("c-2", confirm.PriorityLow))
	if err != nil {
		t.Fatal(err)
	}
	if rule == nil || rule.ID != "broad" {
		t.Fatalf("matched %+v, want broad", rule)
	}
}

func TestEscalationAddRuleValidation(t *testing.T) {
	ctx := context.Background()
	f := newEscalationFixture(t)

	if err := f.engine.AddRule(ctx, escalation.Rule{Path: []escalation.Level{{}}}); err == nil {
		t.Fatal("rule without id accepted")
	}
	if err := f.engine.AddRule(ctx, escalation.Rule{ID: "r"}); err == nil {
		t.Fatal("rule with empty path accepted")
	}
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/confirmd/confirmd/internal/adapter/otel"
	"github.com/confirmd/confirmd/internal/clock"
	"github.com/confirmd/confirmd/internal/domain"
	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/timeout"
	"github.com/confirmd/confirmd/internal/port/repository"
)

// TimeoutDefaults is the fallback timeout policy applied when no rule
// matches a confirmation.
type TimeoutDefaults struct {
	Timeout           time.Duration
	WarningThresholds []time.Duration
	Action            timeout.Action
}

// DefaultTimeoutDefaults returns the standard fallback policy.
func DefaultTimeoutDefaults() TimeoutDefaults {
	return TimeoutDefaults{
		Timeout:           24 * time.Hour,
		WarningThresholds: []time.Duration{time.Hour, 30 * time.Minute, 5 * time.Minute},
		Action:            timeout.ActionEscalate,
	}
}

// TimeoutService classifies confirmations against timeout rules.
// Rules are evaluated first-match in descending priority; a confirmation is
// governed by exactly one rule, never a merge of several.
type TimeoutService struct {
	rules    repository.RuleStore[timeout.Rule]
	confirms repository.ConfirmStore
	clock    clock.Clock
	defaults TimeoutDefaults
}

func NewTimeoutService(rules repository.RuleStore[timeout.Rule], confirms repository.ConfirmStore, clk clock.Clock, defaults TimeoutDefaults) *TimeoutService {
	if clk == nil {
		clk = clock.System{}
	}
	return &TimeoutService{
		rules:    rules,
		confirms: confirms,
		clock:    clk,
		defaults: defaults,
	}
}

// AddRule registers or replaces a timeout rule.
func (s *TimeoutService) AddRule(ctx context.Context, r timeout.Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required: %w", domain.ErrValidation)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("rule %s timeout must be positive: %w", r.ID, domain.ErrValidation)
	}
	return s.rules.Put(ctx, r.ID, r)
}

// RemoveRule deletes a timeout rule.
func (s *TimeoutService) RemoveRule(ctx context.Context, id string) error {
	return s.rules.Delete(ctx, id)
}

// Rules returns all registered rules sorted by descending priority.
func (s *TimeoutService) Rules(ctx context.Context) ([]timeout.Rule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return rules, nil
}

// Check classifies a single confirmation. Terminal confirmations are
// reported as not expired with no recommended action.
func (s *TimeoutService) Check(ctx context.Context, c *confirm.Confirm) (timeout.Check, error) {
	ctx, span := otel.StartTimeoutCheckSpan(ctx, c.ID)
	defer span.End()

	now := s.clock.Now()
	if !c.IsActive() {
		return timeout.Check{
			ConfirmID: c.ID,
			Result:    timeout.ResultNotExpired,
			Timestamp: now,
		}, nil
	}

	rule, err := s.resolveRule(ctx, c)
	if err != nil {
		return timeout.Check{}, err
	}

	// The explicit deadline wins; otherwise the rule's window runs from
	// creation.
	deadline := c.CreatedAt.Add(rule.Timeout)
	if c.ExpiresAt != nil {
		deadline = *c.ExpiresAt
	}

	total := deadline.Sub(c.CreatedAt)
	elapsed := now.Sub(c.CreatedAt)
	remaining := deadline.Sub(now)

	check := timeout.Check{
		ConfirmID:     c.ID,
		TimeRemaining: remaining,
		TimeElapsed:   elapsed,
		TotalTimeout:  total,
		AppliedRule:   rule,
		Timestamp:     now,
	}

	switch {
	case remaining <= 0 && elapsed > 2*total:
		check.Result = timeout.ResultCritical
		check.RecommendedAction = rule.Action
	case remaining <= 0:
		check.Result = timeout.ResultExpired
		check.RecommendedAction = rule.Action
	default:
		check.Result = timeout.ResultNotExpired
		for _, th := range sortedThresholds(rule.WarningThresholds) {
			if remaining <= th {
				check.Result = timeout.ResultWarning
				check.RecommendedAction = timeout.ActionSendWarning
				break
			}
		}
		check.NextWarningIn = nextWarningIn(remaining, rule.WarningThresholds)
	}
	return check, nil
}

// CheckAll classifies every active confirmation.
func (s *TimeoutService) CheckAll(ctx context.Context) (*timeout.BatchCheck, error) {
	active, err := s.confirms.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active confirms: %w", err)
	}

	batch := &timeout.BatchCheck{Timestamp: s.clock.Now()}
	for _, c := range active {
		check, err := s.Check(ctx, c)
		if err != nil {
			slog.Warn("timeout check failed", "confirm_id", c.ID, "error", err)
			continue
		}
		batch.TotalChecked++
		batch.Results = append(batch.Results, check)
		switch check.Result {
		case timeout.ResultNotExpired:
			batch.NotExpired++
		case timeout.ResultWarning:
			batch.Warnings++
		case timeout.ResultExpired:
			batch.Expired++
		case timeout.ResultCritical:
			batch.Critical++
		}
	}
	return batch, nil
}

// Statistics summarizes the timeout posture of every active confirmation.
func (s *TimeoutService) Statistics(ctx context.Context) (*timeout.Statistics, error) {
	batch, err := s.CheckAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &timeout.Statistics{
		TotalConfirms:   batch.TotalChecked,
		ActiveConfirms:  batch.NotExpired + batch.Warnings,
		ExpiredConfirms: batch.Expired + batch.Critical,
		WarningConfirms: batch.Warnings,
		Timestamp:       batch.Timestamp,
	}
	if batch.TotalChecked > 0 {
		stats.TimeoutRate = float64(stats.ExpiredConfirms) / float64(batch.TotalChecked)
		var sum time.Duration
		for _, r := range batch.Results {
			sum += r.TimeElapsed
		}
		stats.AverageProcessingTime = sum / time.Duration(batch.TotalChecked)
	}
	return stats, nil
}

// resolveRule returns the highest-priority enabled rule matching the
// confirmation, or a synthetic default rule when none match.
func (s *TimeoutService) resolveRule(ctx context.Context, c *confirm.Confirm) (*timeout.Rule, error) {
	rules, err := s.Rules(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if !rules[i].Enabled {
			continue
		}
		if rules[i].Matches(c) {
			return &rules[i], nil
		}
	}
	return &timeout.Rule{
		ID:                "default",
		Name:              "Default timeout policy",
		Timeout:           s.defaults.Timeout,
		WarningThresholds: s.defaults.WarningThresholds,
		Action:            s.defaults.Action,
		Enabled:           true,
	}, nil
}

// sortedThresholds returns thresholds in descending order so the first hit
// is the largest window containing the remaining time.
func sortedThresholds(ths []time.Duration) []time.Duration {
	out := append([]time.Duration(nil), ths...)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// nextWarningIn computes the delay until the next smaller warning threshold
// is crossed. Zero means no further warning is pending.
func nextWarningIn(remaining time.Duration, ths []time.Duration) time.Duration {
	var next time.Duration
	for _, th := range ths {
		if th < remaining && th > next {
			next = th
		}
	}
	if next == 0 {
		return 0
	}
	return remaining - next
}

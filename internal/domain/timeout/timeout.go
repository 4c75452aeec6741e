// Package timeout defines timeout rules and the classification results
// produced when a confirmation is checked against them.
package timeout

import (
	"time"

	"github.com/confirmd/confirmd/internal/domain/confirm"
)

// CheckResult buckets a confirmation's position relative to its deadline.
type CheckResult string

const (
	ResultNotExpired CheckResult = "not_expired"
	ResultWarning    CheckResult = "warning"
	ResultExpired    CheckResult = "expired"
	ResultCritical   CheckResult = "critical"
)

// Action is what the engine should do about a timed-out or expiring confirm.
type Action string

const (
	ActionSendWarning Action = "send_warning"
	ActionAutoApprove Action = "auto_approve"
	ActionAutoReject  Action = "auto_reject"
	ActionEscalate    Action = "escalate"
	ActionCancel      Action = "cancel"
)

// Match is the predicate deciding which confirmations a rule applies to.
// Empty slices match everything; populated slices require membership.
type Match struct {
	Types          []confirm.Type     `json:"confirmation_types,omitempty"`
	Priorities     []confirm.Priority `json:"priorities,omitempty"`
	ContextIDs     []string           `json:"context_ids,omitempty"`
	PlanIDs        []string           `json:"plan_ids,omitempty"`
	RequesterRoles []string           `json:"requester_roles,omitempty"`
}

// Rule pairs a match predicate with a timeout window, warning thresholds,
// and the action to recommend once the window closes. Rules are evaluated
// first-match in descending Priority order; they do not merge.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Match Match `json:"match"`

	// Timeout is measured from the confirm's creation when it carries no
	// explicit deadline.
	Timeout time.Duration `json:"timeout"`

	// WarningThresholds are remaining-time boundaries at which a warning
	// fires, e.g. 1h, 30m, 5m before expiry.
	WarningThresholds []time.Duration `json:"warning_thresholds"`

	Action   Action `json:"timeout_action"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
}

// Matches reports whether the rule's predicate accepts the confirmation.
func (r *Rule) Matches(c *confirm.Confirm) bool {
	if len(r.Match.Types) > 0 && !containsType(r.Match.Types, c.Type) {
		return false
	}
	if len(r.Match.Priorities) > 0 && !containsPriority(r.Match.Priorities, c.Priority) {
		return false
	}
	if len(r.Match.ContextIDs) > 0 && !contains(r.Match.ContextIDs, c.ContextID) {
		return false
	}
	if len(r.Match.PlanIDs) > 0 && c.PlanID != "" && !contains(r.Match.PlanIDs, c.PlanID) {
		return false
	}
	if len(r.Match.RequesterRoles) > 0 && !contains(r.Match.RequesterRoles, c.Requester.Role) {
		return false
	}
	return true
}

// Check is the classification of one confirmation against its timeout rule.
type Check struct {
	ConfirmID     string        `json:"confirm_id"`
	Result        CheckResult   `json:"result"`
	TimeRemaining time.Duration `json:"time_remaining"`
	TimeElapsed   time.Duration `json:"time_elapsed"`
	TotalTimeout  time.Duration `json:"total_timeout"`

	// NextWarningIn is how long until the next (smaller) warning threshold
	// is crossed; zero when no further warning is pending.
	NextWarningIn time.Duration `json:"next_warning_in,omitempty"`

	RecommendedAction Action    `json:"recommended_action,omitempty"`
	AppliedRule       *Rule     `json:"applied_rule,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// BatchCheck aggregates per-bucket counts over a batch of checks.
type BatchCheck struct {
	TotalChecked int       `json:"total_checked"`
	NotExpired   int       `json:"not_expired"`
	Warnings     int       `json:"warnings"`
	Expired      int       `json:"expired"`
	Critical     int       `json:"critical"`
	Results      []Check   `json:"results"`
	Timestamp    time.Time `json:"timestamp"`
}

// Statistics summarizes timeout posture over a set of confirmations.
type Statistics struct {
	TotalConfirms         int           `json:"total_confirms"`
	ActiveConfirms        int           `json:"active_confirms"`
	ExpiredConfirms       int           `json:"expired_confirms"`
	WarningConfirms       int           `json:"warning_confirms"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	TimeoutRate           float64       `json:"timeout_rate"`
	Timestamp             time.Time     `json:"timestamp"`
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsType(set []confirm.Type, v confirm.Type) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsPriority(set []confirm.Priority, v confirm.Priority) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

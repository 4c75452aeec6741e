// Package automation defines the rules, decisions, and confidence weighting
// used by the automated decision engine.
package automation

import (
	"time"

	"github.com/confirmd/confirmd/internal/domain/confirm"
)

// DecisionType is the outcome an automation rule produces.
type DecisionType string

const (
	DecisionAutoApprove    DecisionType = "auto_approve"
	DecisionAutoReject     DecisionType = "auto_reject"
	DecisionEscalate       DecisionType = "escalate"
	DecisionSendReminder   DecisionType = "send_reminder"
	DecisionExtendDeadline DecisionType = "extend_deadline"
	DecisionCancel         DecisionType = "cancel"
	DecisionNoAction       DecisionType = "no_action"
)

// Trigger records what class of signal a rule reacts to.
type Trigger string

const (
	TriggerTimeout  Trigger = "timeout"
	TriggerPriority Trigger = "priority"
	TriggerRole     Trigger = "role"
	TriggerContext  Trigger = "context"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// ClockRange is a daily time-of-day window in "HH:MM" form. A window whose
// Start is after its End wraps past midnight (e.g. 18:00-09:00).
type ClockRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether the wall-clock time of now falls in the window.
func (r ClockRange) Contains(now time.Time) bool {
	hm := now.Format("15:04")
	if r.Start <= r.End {
		return hm >= r.Start && hm <= r.End
	}
	return hm >= r.Start || hm <= r.End
}

// DateRange is an inclusive calendar window in "YYYY-MM-DD" form.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether the calendar date of now falls in the window.
func (r DateRange) Contains(now time.Time) bool {
	d := now.Format("2006-01-02")
	return d >= r.Start && d <= r.End
}

// Conditions is the AND-combined predicate deciding rule applicability.
// Every field is optional; an empty field matches everything.
type Conditions struct {
	Types          []confirm.Type     `json:"confirmation_types,omitempty"`
	Priorities     []confirm.Priority `json:"priorities,omitempty"`
	Statuses       []confirm.Status   `json:"statuses,omitempty"`
	ContextIDs     []string           `json:"context_ids,omitempty"`
	RequesterRoles []string           `json:"requester_roles,omitempty"`
	TimeRange      *ClockRange        `json:"time_range,omitempty"`
	DateRange      *DateRange         `json:"date_range,omitempty"`
}

// Match reports whether the confirmation satisfies every set condition at
// the given moment.
func (cs *Conditions) Match(c *confirm.Confirm, now time.Time) bool {
	if len(cs.Types) > 0 && !containsType(cs.Types, c.Type) {
		return false
	}
	if len(cs.Priorities) > 0 && !containsPriority(cs.Priorities, c.Priority) {
		return false
	}
	if len(cs.Statuses) > 0 && !containsStatus(cs.Statuses, c.Status) {
		return false
	}
	if len(cs.ContextIDs) > 0 && !contains(cs.ContextIDs, c.ContextID) {
		return false
	}
	if len(cs.RequesterRoles) > 0 && !contains(cs.RequesterRoles, c.Requester.Role) {
		return false
	}
	if cs.TimeRange != nil && !cs.TimeRange.Contains(now) {
		return false
	}
	if cs.DateRange != nil && !cs.DateRange.Contains(now) {
		return false
	}
	return true
}

// Limits bounds how often a rule may execute. Each limit is checked
// independently; any exhausted limit excludes the rule from applicability.
type Limits struct {
	MaxPerDay     int           `json:"max_executions_per_day,omitempty"`
	MaxPerConfirm int           `json:"max_executions_per_confirm,omitempty"`
	Cooldown      time.Duration `json:"cooldown,omitempty"`
}

// Rule is a condition-to-decision mapping with a confidence gate and
// execution limits.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Trigger    Trigger        `json:"trigger"`
	Conditions Conditions     `json:"conditions"`
	Decision   DecisionType   `json:"decision"`
	Params     map[string]any `json:"decision_parameters,omitempty"`

	// ConfidenceThreshold is a hard gate in [0,1]: a decision below it is
	// withheld, never softened.
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
	Limits   Limits `json:"limits"`
}

// Weights are the business-tunable confidence adjustments. The base score
// starts at Base and the applicable adjustments are added before clamping
// to [0,1].
type Weights struct {
	Base float64

	Expired  float64
	Critical float64
	Warning  float64

	Urgent float64
	High   float64
	Low    float64
}

// DefaultWeights returns the standard confidence weighting.
func DefaultWeights() Weights {
	return Weights{
		Base:     0.5,
		Expired:  0.3,
		Critical: 0.4,
		Warning:  0.1,
		Urgent:   0.2,
		High:     0.1,
		Low:      -0.1,
	}
}

// DecisionResult is a decision the engine is prepared to execute.
type DecisionResult struct {
	RuleID     string         `json:"rule_id"`
	Decision   DecisionType   `json:"decision"`
	Confidence float64        `json:"confidence"`
	Reasoning  []string       `json:"reasoning"`
	Params     map[string]any `json:"parameters,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ExecutionResult records one executed (or failed) automated decision.
type ExecutionResult struct {
	Success       bool          `json:"success"`
	Decision      DecisionType  `json:"decision"`
	RuleID        string        `json:"rule_id"`
	ConfirmID     string        `json:"confirm_id"`
	Confidence    float64       `json:"confidence"`
	ExecutionTime time.Duration `json:"execution_time"`
	Message       string        `json:"message,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Statistics summarizes automation activity.
type Statistics struct {
	TotalExecutions int                  `json:"total_executions"`
	RuleUsage       map[string]int       `json:"rule_usage"`
	Breakdown       map[DecisionType]int `json:"decision_breakdown"`
	Timestamp       time.Time            `json:"timestamp"`
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

func containsStatus(set []confirm.Status, v confirm.Status) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Package escalation defines escalation rules, multi-level escalation paths,
// and the instances that track one run of a rule against a confirmation.
package escalation

import (
	"time"

	"github.com/confirmd/confirmd/internal/domain/confirm"
)

// Type records what caused an escalation to be triggered.
type Type string

const (
	TypeTimeBased     Type = "time_based"
	TypePriorityBased Type = "priority_based"
	TypeRoleBased     Type = "role_based"
	TypeManual        Type = "manual"
	TypeAutomatic     Type = "automatic"
)

// Status is the state of one escalation instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Strategy defines how the levels of an escalation path are traversed.
type Strategy string

const (
	StrategySequential  Strategy = "sequential"
	StrategyParallel    Strategy = "parallel"
	StrategyConditional Strategy = "conditional"
)

// ActionKind identifies one discrete escalation effect.
type ActionKind string

const (
	ActionNotify      ActionKind = "notify"
	ActionAutoApprove ActionKind = "auto_approve"
	ActionAutoReject  ActionKind = "auto_reject"
	ActionReassign    ActionKind = "reassign"
	ActionCancel      ActionKind = "cancel"
)

// Action is one effect executed when an escalation level runs. Delay, when
// set, is awaited before the action executes.
type Action struct {
	Kind   ActionKind     `json:"type"`
	Params map[string]any `json:"parameters,omitempty"`
	Delay  time.Duration  `json:"delay,omitempty"`
}

// Targets is the audience of one escalation level.
type Targets struct {
	UserIDs []string `json:"user_ids,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Emails  []string `json:"emails,omitempty"`
}

// List flattens the audience into prefixed identifiers.
func (t Targets) List() []string {
	out := make([]string, 0, len(t.UserIDs)+len(t.Roles)+len(t.Groups)+len(t.Emails))
	out = append(out, t.UserIDs...)
	for _, r := range t.Roles {
		out = append(out, "role:"+r)
	}
	for _, g := range t.Groups {
		out = append(out, "group:"+g)
	}
	for _, e := range t.Emails {
		out = append(out, "email:"+e)
	}
	return out
}

// Level is one step of an escalation path.
type Level struct {
	Level               int           `json:"level"`
	Name                string        `json:"name,omitempty"`
	Targets             Targets       `json:"targets"`
	Actions             []Action      `json:"actions"`
	Timeout             time.Duration `json:"timeout"`
	RequireAllApprovals bool          `json:"require_all_approvals"`
}

// Triggers is the predicate deciding which confirmations a rule applies to.
type Triggers struct {
	Timeout        time.Duration      `json:"timeout,omitempty"`
	Priorities     []confirm.Priority `json:"priorities,omitempty"`
	Types          []confirm.Type     `json:"confirmation_types,omitempty"`
	ContextIDs     []string           `json:"context_ids,omitempty"`
	RequesterRoles []string           `json:"requester_roles,omitempty"`
}

// Rule owns an ordered escalation path and the conditions under which a
// confirmation enters it.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Triggers Triggers `json:"triggers"`
	Strategy Strategy `json:"strategy"`
	Path     []Level  `json:"escalation_path"`

	Enabled        bool          `json:"enabled"`
	Priority       int           `json:"priority"`
	MaxEscalations int           `json:"max_escalations"`
	MinInterval    time.Duration `json:"min_interval"`
}

// Matches reports whether the rule's trigger predicate accepts the confirm.
func (r *Rule) Matches(c *confirm.Confirm) bool {
	if len(r.Triggers.Types) > 0 && !containsType(r.Triggers.Types, c.Type) {
		return false
	}
	if len(r.Triggers.Priorities) > 0 && !containsPriority(r.Triggers.Priorities, c.Priority) {
		return false
	}
	if len(r.Triggers.ContextIDs) > 0 && !contains(r.Triggers.ContextIDs, c.ContextID) {
		return false
	}
	if len(r.Triggers.RequesterRoles) > 0 && !contains(r.Triggers.RequesterRoles, c.Requester.Role) {
		return false
	}
	return true
}

// HistoryEntry records one level attempt of an escalation instance.
// History is append-only.
type HistoryEntry struct {
	Level       int        `json:"level"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      Status     `json:"status"`
	Targets     []string   `json:"targets"`
	Actions     []Action   `json:"actions"`
	Notes       string     `json:"notes,omitempty"`
}

// Instance is one run of an escalation rule against one confirmation.
// CurrentLevel is zero-based and never decreases. At most one instance per
// confirm may be in progress at any time.
type Instance struct {
	ID        string   `json:"id"`
	ConfirmID string   `json:"confirm_id"`
	RuleID    string   `json:"rule_id"`
	Type      Type     `json:"type"`
	Status    Status   `json:"status"`
	Strategy  Strategy `json:"strategy"`

	CurrentLevel int `json:"current_level"`
	MaxLevel     int `json:"max_level"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	History  []HistoryEntry `json:"history"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result reports the outcome of triggering or advancing an escalation.
// Action failures are reported in FailedActions; they never abort the run.
type Result struct {
	Success          bool   `json:"success"`
	EscalationID     string `json:"escalation_id,omitempty"`
	CurrentLevel     int    `json:"current_level"`
	NextLevel        int    `json:"next_level,omitempty"`
	CompletedActions int    `json:"completed_actions"`
	FailedActions    int    `json:"failed_actions"`
	Message          string `json:"message,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Statistics summarizes engine-wide escalation activity.
type Statistics struct {
	Total       int           `json:"total_escalations"`
	Active      int           `json:"active_escalations"`
	Completed   int           `json:"completed_escalations"`
	Failed      int           `json:"failed_escalations"`
	AverageTime time.Duration `json:"average_escalation_time"`
	SuccessRate float64       `json:"escalation_success_rate"`
	Timestamp   time.Time     `json:"timestamp"`
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

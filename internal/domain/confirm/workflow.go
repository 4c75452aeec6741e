package confirm

// WorkflowType defines how the approval steps of a workflow are traversed.
type WorkflowType string

const (
	WorkflowSingleApprover WorkflowType = "single_approver"
	WorkflowSequential     WorkflowType = "sequential"
	WorkflowParallel       WorkflowType = "parallel"
	WorkflowConsensus      WorkflowType = "consensus"
	WorkflowEscalation     WorkflowType = "escalation"
)

// StepStatus is the state of one approval step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepApproved  StepStatus = "approved"
	StepRejected  StepStatus = "rejected"
	StepDelegated StepStatus = "delegated"
	StepSkipped   StepStatus = "skipped"
)

// Approver is the person responsible for one approval step.
type Approver struct {
	UserID            string `json:"user_id"`
	Role              string `json:"role"`
	IsRequired        bool   `json:"is_required"`
	DelegationAllowed bool   `json:"delegation_allowed,omitempty"`
}

// Step is a single stage of an approval workflow.
type Step struct {
	ID           string     `json:"step_id"`
	Name         string     `json:"step_name,omitempty"`
	Order        int        `json:"step_order"`
	Approver     Approver   `json:"approver"`
	TimeoutHours int        `json:"timeout_hours,omitempty"`
	Conditions   []string   `json:"conditions,omitempty"`
	Status       StepStatus `json:"status"`
}

// Workflow describes the ordered or parallel approval steps a confirmation
// must pass through.
type Workflow struct {
	Type  WorkflowType `json:"workflow_type"`
	Steps []Step       `json:"steps"`
}

// CurrentStep returns the first step still pending, or nil when every step
// has been resolved.
func (w *Workflow) CurrentStep() *Step {
	for i := range w.Steps {
		if w.Steps[i].Status == StepPending {
			return &w.Steps[i]
		}
	}
	return nil
}

// Completed reports whether no pending steps remain.
func (w *Workflow) Completed() bool {
	return w.CurrentStep() == nil
}

package domain

import (
	"time"
)

type SagaState string

const (
	SagaStateCreated                    SagaState = "created"
	SagaStateAwaitingApproval           SagaState = "awaiting_approval"
	SagaStateWithdrawing                SagaState = "withdrawing"
	SagaStateDepositing                 SagaState = "depositing"
	SagaStateCompleted                  SagaState = "completed"
	SagaStateRefunding                  SagaState = "refunding"
	SagaStateRefunded                   SagaState = "refunded"
	SagaStateWithdrawFailed             SagaState = "withdraw_failed"
	SagaStateManualInterventionRequired SagaState = "manual_intervention_required"
)

func (s SagaState) IsTerminal() bool {
	switch s {
	case SagaStateCompleted, SagaStateRefunded, SagaStateWithdrawFailed, SagaStateManualInterventionRequired:
		return true
	}
	return false
}

func (s SagaState) RunStatus() RunStatus {
	switch s {
	case SagaStateCompleted, SagaStateRefunded:
		return RunStatusCompleted
	case SagaStateWithdrawFailed, SagaStateManualInterventionRequired:
		return RunStatusFailed
	}
	return RunStatusRunning
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

type ActivityName string

const (
	ActivityWithdraw ActivityName = "withdraw"
	ActivityDeposit  ActivityName = "deposit"
	ActivityRefund   ActivityName = "refund"
)

// SagaRun is the queryable projection of a saga's history. The history in
// saga_events stays authoritative.
type SagaRun struct {
	SagaID           string
	WorkflowType     string
	Payment          PaymentDetails
	State            SagaState
	Status           RunStatus
	AwaitingApproval bool
	ApprovedBy       string
	Result           *TransferResult
	FailureKind      ErrorKind
	FailureMessage   string
	NeedsDecision    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}

type SagaEventType string

const (
	SagaEventStarted           SagaEventType = "saga_started"
	SagaEventApprovalRequested SagaEventType = "approval_requested"
	SagaEventApprovalSignaled  SagaEventType = "approval_signaled"
	SagaEventActivityScheduled SagaEventType = "activity_scheduled"
	SagaEventActivityCompleted SagaEventType = "activity_completed"
	SagaEventActivityFailed    SagaEventType = "activity_failed"
	SagaEventCompleted         SagaEventType = "saga_completed"
	SagaEventFailed            SagaEventType = "saga_failed"
)

// SagaEventData is the payload of every history event. Each event type uses
// a subset of the fields.
type SagaEventData struct {
	Payment   *PaymentDetails `json:"payment,omitempty"`
	Threshold int64           `json:"threshold,omitempty"`
	Manager   string          `json:"manager,omitempty"`
	Activity  ActivityName    `json:"activity,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	EffectID  string          `json:"effect_id,omitempty"`
	Kind      ErrorKind       `json:"kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
	Result    *TransferResult `json:"result,omitempty"`
}

type SagaEvent struct {
	SagaID    string
	Seq       int64
	Type      SagaEventType
	Data      SagaEventData
	CreatedAt time.Time
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusLeased    TaskStatus = "leased"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

type SagaTask struct {
	TaskID         string
	SagaID         string
	Queue          string
	Activity       ActivityName
	Payment        PaymentDetails
	Status         TaskStatus
	Attempts       int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RunFilter struct {
	WorkflowType string
	Status       RunStatus
	Limit        int
}

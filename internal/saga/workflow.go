package saga

import (
	"fmt"
	"time"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

type ActivityState struct {
	Scheduled bool
	TaskID    string
	Done      bool
	EffectID  string
	Failed    bool
	Kind      domain.ErrorKind
	Message   string
	Attempts  int
}

// State is a saga folded from its history.
type State struct {
	SagaID            string
	Payment           domain.PaymentDetails
	Started           bool
	ApprovalRequested bool
	AwaitingApproval  bool
	ApprovedBy        string
	Activities        map[domain.ActivityName]*ActivityState
	Closed            bool
	ClosedAt          time.Time
	Result            *domain.TransferResult
	FailureKind       domain.ErrorKind
	FailureMessage    string
	LastSeq           int64
}

func (s *State) activity(name domain.ActivityName) *ActivityState {
	if s.Activities == nil {
		s.Activities = make(map[domain.ActivityName]*ActivityState)
	}
	a, ok := s.Activities[name]
	if !ok {
		a = &ActivityState{}
		s.Activities[name] = a
	}
	return a
}

// Replay folds events in sequence order. It is deterministic and never
// performs I/O.
func Replay(events []domain.SagaEvent) State {
	var s State
	for _, e := range events {
		s.Apply(e)
	}
	return s
}

func (s *State) Apply(e domain.SagaEvent) {
	s.LastSeq = e.Seq
	switch e.Type {
	case domain.SagaEventStarted:
		s.SagaID = e.SagaID
		s.Started = true
		if e.Data.Payment != nil {
			s.Payment = *e.Data.Payment
		}
	case domain.SagaEventApprovalRequested:
		s.ApprovalRequested = true
		s.AwaitingApproval = true
	case domain.SagaEventApprovalSignaled:
		s.ApprovedBy = e.Data.Manager
		s.AwaitingApproval = false
	case domain.SagaEventActivityScheduled:
		a := s.activity(e.Data.Activity)
		a.Scheduled = true
		a.TaskID = e.Data.TaskID
	case domain.SagaEventActivityCompleted:
		a := s.activity(e.Data.Activity)
		a.Done = true
		a.EffectID = e.Data.EffectID
		a.Attempts = e.Data.Attempts
	case domain.SagaEventActivityFailed:
		a := s.activity(e.Data.Activity)
		a.Failed = true
		a.Kind = e.Data.Kind
		a.Message = e.Data.Message
		a.Attempts = e.Data.Attempts
	case domain.SagaEventCompleted:
		s.Closed = true
		s.ClosedAt = e.CreatedAt
		s.Result = e.Data.Result
	case domain.SagaEventFailed:
		s.Closed = true
		s.ClosedAt = e.CreatedAt
		s.FailureKind = e.Data.Kind
		s.FailureMessage = e.Data.Message
	}
}

func (s *State) Phase() domain.SagaState {
	if s.Closed {
		switch {
		case s.Result != nil && s.Result.Success:
			return domain.SagaStateCompleted
		case s.Result != nil && s.Result.Reverted:
			return domain.SagaStateRefunded
		case s.FailureKind == domain.KindManualInterventionRequired:
			return domain.SagaStateManualInterventionRequired
		default:
			return domain.SagaStateWithdrawFailed
		}
	}
	switch {
	case s.has(domain.ActivityRefund):
		return domain.SagaStateRefunding
	case s.has(domain.ActivityDeposit):
		return domain.SagaStateDepositing
	case s.has(domain.ActivityWithdraw):
		return domain.SagaStateWithdrawing
	case s.AwaitingApproval:
		return domain.SagaStateAwaitingApproval
	}
	return domain.SagaStateCreated
}

func (s *State) has(name domain.ActivityName) bool {
	a, ok := s.Activities[name]
	return ok && a.Scheduled
}

func (s *State) get(name domain.ActivityName) ActivityState {
	if a, ok := s.Activities[name]; ok {
		return *a
	}
	return ActivityState{}
}

// Decision is the next step of a saga. An empty Decision means the saga is
// waiting on a signal or an activity, or has finished.
type Decision struct {
	Type     domain.SagaEventType
	Data     domain.SagaEventData
	Schedule domain.ActivityName
}

func (d Decision) IsEmpty() bool {
	return d.Type == ""
}

// Decide returns the single next step for s under p. It is a pure function
// of its inputs.
func Decide(s State, p Policy) Decision {
	if !s.Started || s.Closed {
		return Decision{}
	}

	if s.Payment.Amount > p.ApprovalThreshold && !s.ApprovalRequested {
		return Decision{
			Type: domain.SagaEventApprovalRequested,
			Data: domain.SagaEventData{Threshold: p.ApprovalThreshold},
		}
	}
	if s.AwaitingApproval {
		return Decision{}
	}

	w := s.get(domain.ActivityWithdraw)
	switch {
	case !w.Scheduled:
		return schedule(domain.ActivityWithdraw)
	case w.Failed:
		return Decision{
			Type: domain.SagaEventFailed,
			Data: domain.SagaEventData{Kind: w.Kind, Message: "Withdraw failed: " + w.Message},
		}
	case !w.Done:
		return Decision{}
	}

	d := s.get(domain.ActivityDeposit)
	switch {
	case !d.Scheduled:
		return schedule(domain.ActivityDeposit)
	case d.Done:
		return Decision{
			Type: domain.SagaEventCompleted,
			Data: domain.SagaEventData{Result: &domain.TransferResult{
				Success:          true,
				Message:          fmt.Sprintf("Transfer complete (transaction IDs: %s, %s)", w.EffectID, d.EffectID),
				WithdrawEffectID: w.EffectID,
				DepositEffectID:  d.EffectID,
			}},
		}
	case !d.Failed:
		return Decision{}
	}

	r := s.get(domain.ActivityRefund)
	switch {
	case !r.Scheduled:
		return schedule(domain.ActivityRefund)
	case r.Done:
		return Decision{
			Type: domain.SagaEventCompleted,
			Data: domain.SagaEventData{Result: &domain.TransferResult{
				Success:  false,
				Reverted: true,
				Message: fmt.Sprintf("Deposit failed: %s. Money returned to %s (refund transaction ID: %s)",
					d.Message, s.Payment.SourceAccount, r.EffectID),
				WithdrawEffectID: w.EffectID,
				RefundEffectID:   r.EffectID,
			}},
		}
	case r.Failed:
		return Decision{
			Type: domain.SagaEventFailed,
			Data: domain.SagaEventData{
				Kind:    domain.KindManualInterventionRequired,
				Message: fmt.Sprintf("Refund failed: %s, manual intervention required", r.Message),
			},
		}
	}
	return Decision{}
}

func schedule(name domain.ActivityName) Decision {
	return Decision{
		Type:     domain.SagaEventActivityScheduled,
		Data:     domain.SagaEventData{Activity: name},
		Schedule: name,
	}
}

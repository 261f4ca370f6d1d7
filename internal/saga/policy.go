package saga

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

// RetryPolicy governs how a failed activity attempt is retried.
type RetryPolicy struct {
	InitialInterval time.Duration
	Coefficient     float64
	MaximumInterval time.Duration
	// MaximumAttempts of zero retries forever.
	MaximumAttempts int
	NonRetryable    []domain.ErrorKind
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		Coefficient:     2,
		MaximumInterval: 5 * time.Second,
		NonRetryable: []domain.ErrorKind{
			domain.KindInvalidAccount,
			domain.KindInsufficientFunds,
			domain.KindAccountNotFound,
		},
	}
}

// Delay returns how long to wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Coefficient,
		MaxInterval:         p.MaximumInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaximumAttempts > 0 && attempts >= p.MaximumAttempts
}

func (p RetryPolicy) retryable(kind domain.ErrorKind) bool {
	if kind == domain.KindManualInterventionRequired {
		return false
	}
	for _, k := range p.NonRetryable {
		if k == kind {
			return false
		}
	}
	return true
}

type OutcomeTag int

const (
	OutcomeOK OutcomeTag = iota
	OutcomeRetryable
	OutcomeFatal
)

func (t OutcomeTag) String() string {
	switch t {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Outcome is the classified result of one activity attempt.
type Outcome struct {
	Tag      OutcomeTag
	EffectID string
	Kind     domain.ErrorKind
	Message  string
}

func OK(effectID string) Outcome {
	return Outcome{Tag: OutcomeOK, EffectID: effectID}
}

// Classify turns an activity's return values into an Outcome.
func (p RetryPolicy) Classify(effectID string, err error) Outcome {
	if err == nil {
		return OK(effectID)
	}
	kind := domain.KindOf(err)
	tag := OutcomeFatal
	if p.retryable(kind) {
		tag = OutcomeRetryable
	}
	return Outcome{Tag: tag, Kind: kind, Message: err.Error()}
}

// Policy is the fixed configuration every saga decision is made under.
type Policy struct {
	ApprovalThreshold int64
	Retry             RetryPolicy
	TaskQueue         string
	ActivityTimeout   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ApprovalThreshold: 50000,
		Retry:             DefaultRetryPolicy(),
		TaskQueue:         "money-transfer",
		ActivityTimeout:   time.Minute,
	}
}

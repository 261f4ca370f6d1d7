package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrAccountInactive      = errors.New("account is not active")
	ErrSelfTransfer         = errors.New("cannot transfer to same account")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrVersionConflict      = errors.New("optimistic lock conflict")
	ErrTransientConflict    = errors.New("transient store conflict")
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
	ErrHoldNotFound         = errors.New("hold not found")
	ErrManualIntervention   = errors.New("manual intervention required")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrSagaNotFound         = errors.New("saga not found")
	ErrSagaRunning          = errors.New("saga still running")
	ErrSagaClosed           = errors.New("saga already in terminal state")
	ErrLeaseLost            = errors.New("task lease lost")
)

// ErrorKind is the stable name of a failure as recorded in saga history and
// returned to callers.
type ErrorKind string

const (
	KindNone                       ErrorKind = ""
	KindAccountNotFound            ErrorKind = "AccountNotFound"
	KindInsufficientFunds          ErrorKind = "InsufficientFunds"
	KindInvalidAccount             ErrorKind = "InvalidAccount"
	KindTransientStoreConflict     ErrorKind = "TransientStoreConflict"
	KindManualInterventionRequired ErrorKind = "ManualInterventionRequired"
	KindInvalidRequest             ErrorKind = "InvalidRequest"
	KindActivityTimeout            ErrorKind = "ActivityTimeout"
	KindInternal                   ErrorKind = "Internal"
)

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrManualIntervention):
		return KindManualInterventionRequired
	case errors.Is(err, ErrAccountNotFound):
		return KindAccountNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInvalidAccount), errors.Is(err, ErrAccountInactive):
		return KindInvalidAccount
	case errors.Is(err, ErrTransientConflict), errors.Is(err, ErrVersionConflict):
		return KindTransientStoreConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfTransfer), errors.Is(err, ErrDuplicateTransaction):
		return KindInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		return KindActivityTimeout
	default:
		return KindInternal
	}
}

// Sentinel maps a recorded kind back to the error callers match with errors.Is.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindAccountNotFound:
		return ErrAccountNotFound
	case KindInsufficientFunds:
		return ErrInsufficientFunds
	case KindInvalidAccount:
		return ErrInvalidAccount
	case KindTransientStoreConflict:
		return ErrTransientConflict
	case KindManualInterventionRequired:
		return ErrManualIntervention
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindActivityTimeout:
		return context.DeadlineExceeded
	default:
		return ErrTransferFailed
	}
}

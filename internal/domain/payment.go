package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const WorkflowTypeMoneyTransfer = "MoneyTransfer"

// PaymentDetails is the input of one money transfer. ReferenceID is unique
// per business transfer and keys every idempotent effect.
type PaymentDetails struct {
	SourceAccount string `json:"source_account"`
	TargetAccount string `json:"target_account"`
	Amount        int64  `json:"amount"`
	ReferenceID   string `json:"reference_id"`
}

func (p PaymentDetails) Validate() error {
	switch {
	case strings.TrimSpace(p.ReferenceID) == "":
		return fmt.Errorf("%w: reference_id is required", ErrInvalidRequest)
	case strings.HasPrefix(p.ReferenceID, SagaIDPrefix):
		return fmt.Errorf("%w: reference_id may not start with %q", ErrInvalidRequest, SagaIDPrefix)
	case strings.TrimSpace(p.SourceAccount) == "" || strings.TrimSpace(p.TargetAccount) == "":
		return fmt.Errorf("%w: source_account and target_account are required", ErrInvalidRequest)
	case p.SourceAccount == p.TargetAccount:
		return ErrSelfTransfer
	case p.Amount <= 0:
		return ErrInvalidAmount
	}
	return nil
}

// TransferResult is the outcome of a finished saga. Reverted means the saga
// completed but the transfer was undone by a refund: Success is false and no
// money moved on net.
type TransferResult struct {
	Success          bool   `json:"success"`
	Reverted         bool   `json:"reverted"`
	Message          string `json:"message"`
	WithdrawEffectID string `json:"withdraw_effect_id,omitempty"`
	DepositEffectID  string `json:"deposit_effect_id,omitempty"`
	RefundEffectID   string `json:"refund_effect_id,omitempty"`
}

// FormatAmount renders minor units as a decimal major-unit string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

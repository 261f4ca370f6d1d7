package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/ledger"
)

type ledgerStore interface {
	GetOrCreateAccount(ctx context.Context, req ledger.OpenAccount) (*domain.Account, error)
	GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error)
	ExecuteTransfer(ctx context.Context, req ledger.TransferRequest) (*domain.TransactionJournal, error)
	GetJournalByTransactionID(ctx context.Context, transactionID string) (*domain.TransactionJournal, error)
}

// Ledger moves saga money through the ledger store. Funds leave the source
// into a clearing account on withdraw and leave clearing for the target on
// deposit, or back to the source on refund. The ledger transaction id is
// derived from the reference id, so each effect is journaled at most once and
// the journal id doubles as the effect id.
type Ledger struct {
	store    ledgerStore
	clearing string
}

func NewLedger(store ledgerStore, clearingAccount string) *Ledger {
	return &Ledger{store: store, clearing: clearingAccount}
}

// EnsureClearingAccount creates the clearing account when missing.
func (l *Ledger) EnsureClearingAccount(ctx context.Context) error {
	zero := int64(0)
	_, err := l.store.GetOrCreateAccount(ctx, ledger.OpenAccount{
		AccountNumber:  l.clearing,
		CustomerName:   "Transfer clearing",
		InitialBalance: &zero,
		AccountType:    domain.AccountTypeClearing,
	})
	if err != nil {
		return fmt.Errorf("EnsureClearingAccount: %w", err)
	}
	return nil
}

func (l *Ledger) Withdraw(ctx context.Context, p domain.PaymentDetails) (string, error) {
	id, err := l.move(ctx, domain.ActivityWithdraw, p.SourceAccount, l.clearing, p)
	if err != nil {
		return "", fmt.Errorf("Withdraw: %w", err)
	}
	return id, nil
}

func (l *Ledger) Deposit(ctx context.Context, p domain.PaymentDetails) (string, error) {
	target, err := l.store.GetAccount(ctx, p.TargetAccount)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return "", fmt.Errorf("Deposit: account %s does not exist: %w", p.TargetAccount, domain.ErrInvalidAccount)
	case err != nil:
		return "", fmt.Errorf("Deposit: %w", err)
	case !target.IsActive():
		return "", fmt.Errorf("Deposit: account %s is %s: %w", p.TargetAccount, target.Status, domain.ErrInvalidAccount)
	}

	id, err := l.move(ctx, domain.ActivityDeposit, l.clearing, p.TargetAccount, p)
	if err != nil {
		return "", fmt.Errorf("Deposit: %w", err)
	}
	return id, nil
}

func (l *Ledger) Refund(ctx context.Context, p domain.PaymentDetails) (string, error) {
	id, err := l.move(ctx, domain.ActivityRefund, l.clearing, p.SourceAccount, p)
	if err != nil {
		return "", fmt.Errorf("Refund: %w", err)
	}
	return id, nil
}

func (l *Ledger) move(ctx context.Context, kind domain.ActivityName, from, to string, p domain.PaymentDetails) (string, error) {
	txID := p.ReferenceID + ":" + string(kind)
	j, err := l.store.ExecuteTransfer(ctx, ledger.TransferRequest{
		Sender:        from,
		Recipient:     to,
		Amount:        p.Amount,
		TransactionID: txID,
		Description:   fmt.Sprintf("%s %s for %s", kind, domain.FormatAmount(p.Amount), p.ReferenceID),
	})
	if errors.Is(err, domain.ErrDuplicateTransaction) {
		existing, lerr := l.store.GetJournalByTransactionID(ctx, txID)
		if lerr != nil {
			return "", lerr
		}
		return existing.JournalID, nil
	}
	if err != nil {
		return "", err
	}
	return j.JournalID, nil
}

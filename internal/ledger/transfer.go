package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
)

type TransferRequest struct {
	Sender        string
	Recipient     string
	Amount        int64
	TransactionID string
	Description   string
}

func (r TransferRequest) validate() error {
	switch {
	case r.TransactionID == "":
		return fmt.Errorf("%w: transaction_id is required", domain.ErrInvalidRequest)
	case r.Amount <= 0:
		return domain.ErrInvalidAmount
	case r.Sender == r.Recipient:
		return domain.ErrSelfTransfer
	}
	return nil
}

// ExecuteTransfer moves amount from sender to recipient and returns the
// committed journal entry. Either both balances, both balance updates and the
// journal row are written, or nothing is.
func (s *Store) ExecuteTransfer(ctx context.Context, req TransferRequest) (*domain.TransactionJournal, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("ExecuteTransfer: %w", err)
	}

	ctx, span := tracer.Start(ctx, "ledger.ExecuteTransfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.transaction_id", req.TransactionID),
		attribute.Int64("ledger.amount", req.Amount),
	)

	var journal *domain.TransactionJournal
	err := s.withConflictRetry(ctx, "transfer", func() error {
		j, err := s.transferOnce(ctx, req)
		journal = j
		return err
	})
	s.metrics.LedgerTransfer(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return nil, fmt.Errorf("ExecuteTransfer: %w", err)
	}
	return journal, nil
}

func (s *Store) transferOnce(ctx context.Context, req TransferRequest) (*domain.TransactionJournal, error) {
	sessionID := domain.NewRecordID("SESSION")
	log := logging.FromContext(ctx).With("session_id", sessionID, "transaction_id", req.TransactionID)
	started := time.Now()
	log.Info("ledger session started",
		"sender", req.Sender, "recipient", req.Recipient, "amount", domain.FormatAmount(req.Amount))

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	locked, err := s.lockAccountsInOrder(ctx, tx, req.Sender, req.Recipient)
	if err != nil {
		log.Warn("ledger session aborted", "error", err)
		return nil, err
	}
	sender, recipient := locked[req.Sender], locked[req.Recipient]

	if err := checkTransfer(sender, recipient, req); err != nil {
		log.Warn("ledger session aborted", "error", err)
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.accounts.ApplyMovement(ctx, tx, sender, -req.Amount, now); err != nil {
		return nil, err
	}
	if err := s.accounts.ApplyMovement(ctx, tx, recipient, req.Amount, now); err != nil {
		return nil, err
	}

	if err := s.writeBalanceUpdates(ctx, tx, sender, recipient, req, sessionID, now); err != nil {
		return nil, err
	}

	journal := &domain.TransactionJournal{
		JournalID:     domain.NewRecordID("JRN"),
		TransactionID: req.TransactionID,
		DebitAccount:  sender.AccountNumber,
		DebitAmount:   req.Amount,
		CreditAccount: recipient.AccountNumber,
		CreditAmount:  req.Amount,
		Description:   req.Description,
		Status:        domain.JournalStatusCompleted,
		SessionID:     sessionID,
		Committed:     true,
		CreatedAt:     now,
	}
	if err := s.journal.Create(ctx, tx, journal); err != nil {
		log.Warn("ledger session aborted", "error", err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	log.Info("ledger session committed",
		"journal_id", journal.JournalID, "duration_ms", time.Since(started).Milliseconds())
	return journal, nil
}

// checkTransfer applies the business checks in a fixed order: sender exists
// and is active, sender can cover the amount, recipient exists and is active.
func checkTransfer(sender, recipient *domain.Account, req TransferRequest) error {
	if sender == nil {
		return fmt.Errorf("sender %s: %w", req.Sender, domain.ErrAccountNotFound)
	}
	if !sender.IsActive() {
		return fmt.Errorf("sender %s is %s: %w", req.Sender, sender.Status, domain.ErrAccountInactive)
	}
	if sender.Spendable() < req.Amount {
		return fmt.Errorf("sender %s has %s available, needs %s: %w",
			req.Sender, domain.FormatAmount(sender.Spendable()), domain.FormatAmount(req.Amount),
			domain.ErrInsufficientFunds)
	}
	if recipient == nil {
		return fmt.Errorf("recipient %s: %w", req.Recipient, domain.ErrAccountNotFound)
	}
	if !recipient.IsActive() {
		return fmt.Errorf("recipient %s is %s: %w", req.Recipient, recipient.Status, domain.ErrAccountInactive)
	}
	return nil
}

// lockAccountsInOrder takes row locks in account-number order so concurrent
// transfers over the same pair cannot deadlock. Missing accounts are left out
// of the result rather than failing, so checks can run in business order.
func (s *Store) lockAccountsInOrder(ctx context.Context, tx *sql.Tx, numbers ...string) (map[string]*domain.Account, error) {
	sorted := append([]string(nil), numbers...)
	sort.Strings(sorted)

	locked := make(map[string]*domain.Account, len(sorted))
	for _, n := range sorted {
		a, err := s.accounts.GetForUpdate(ctx, tx, n)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				continue
			}
			return nil, err
		}
		locked[n] = a
	}
	return locked, nil
}

func (s *Store) writeBalanceUpdates(ctx context.Context, tx *sql.Tx, sender, recipient *domain.Account, req TransferRequest, sessionID string, at time.Time) error {
	updates := []domain.BalanceUpdate{
		{
			UpdateID:        domain.NewRecordID("UPD"),
			AccountNumber:   sender.AccountNumber,
			TransactionID:   req.TransactionID,
			Operation:       domain.OperationDebit,
			Amount:          req.Amount,
			PreviousBalance: sender.Balance,
			NewBalance:      sender.Balance - req.Amount,
			SessionID:       sessionID,
			CreatedAt:       at,
		},
		{
			UpdateID:        domain.NewRecordID("UPD"),
			AccountNumber:   recipient.AccountNumber,
			TransactionID:   req.TransactionID,
			Operation:       domain.OperationCredit,
			Amount:          req.Amount,
			PreviousBalance: recipient.Balance,
			NewBalance:      recipient.Balance + req.Amount,
			SessionID:       sessionID,
			CreatedAt:       at,
		},
	}
	for i := range updates {
		if err := s.updates.Create(ctx, tx, &updates[i]); err != nil {
			return fmt.Errorf("writeBalanceUpdates: %w", err)
		}
	}
	return nil
}

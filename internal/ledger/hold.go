package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
)

type HoldRequest struct {
	AccountNumber string
	Amount        int64
	TransactionID string
	Reason        string
	// zero means domain.DefaultHoldTTL
	TTL time.Duration
}

// PlaceHold reserves amount of the account's available balance. The hold's
// expiry is recorded only; holds stay active until released.
func (s *Store) PlaceHold(ctx context.Context, req HoldRequest) (string, error) {
	if req.Amount <= 0 {
		return "", fmt.Errorf("PlaceHold: %w", domain.ErrInvalidAmount)
	}
	if req.Reason == "" {
		req.Reason = domain.DefaultHoldReason
	}
	if req.TTL <= 0 {
		req.TTL = domain.DefaultHoldTTL
	}

	ctx, span := tracer.Start(ctx, "ledger.PlaceHold")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.account_number", req.AccountNumber))

	var holdID string
	err := s.withConflictRetry(ctx, "place_hold", func() error {
		id, err := s.placeHoldOnce(ctx, req)
		holdID = id
		return err
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("PlaceHold: %w", err)
	}
	s.metrics.HoldPlaced()
	logging.FromContext(ctx).Info("hold placed",
		"hold_id", holdID, "account_number", req.AccountNumber, "amount", domain.FormatAmount(req.Amount))
	return holdID, nil
}

func (s *Store) placeHoldOnce(ctx context.Context, req HoldRequest) (string, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	a, err := s.accounts.GetForUpdate(ctx, tx, req.AccountNumber)
	if err != nil {
		return "", err
	}
	if a.AvailableBalance < req.Amount {
		return "", fmt.Errorf("account %s has %s available, hold needs %s: %w",
			a.AccountNumber, domain.FormatAmount(a.AvailableBalance), domain.FormatAmount(req.Amount),
			domain.ErrInsufficientFunds)
	}

	now := time.Now().UTC()
	hold := &domain.BalanceHold{
		HoldID:        domain.NewRecordID("HOLD"),
		AccountNumber: a.AccountNumber,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		ExpiresAt:     now.Add(req.TTL),
		CreatedAt:     now,
	}
	if err := s.holds.Create(ctx, tx, hold); err != nil {
		return "", err
	}
	if err := s.accounts.ReserveHold(ctx, tx, a, hold.HoldID, hold.Amount); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hold.HoldID, nil
}

// ReleaseHold returns a hold's amount to available balance. It reports false
// when the hold does not exist or was already released.
func (s *Store) ReleaseHold(ctx context.Context, holdID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "ledger.ReleaseHold")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.hold_id", holdID))

	var released bool
	err := s.withConflictRetry(ctx, "release_hold", func() error {
		ok, err := s.releaseHoldOnce(ctx, holdID)
		released = ok
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("ReleaseHold: %w", err)
	}
	if released {
		s.metrics.HoldReleased()
		logging.FromContext(ctx).Info("hold released", "hold_id", holdID)
	}
	return released, nil
}

func (s *Store) releaseHoldOnce(ctx context.Context, holdID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	hold, err := s.holds.GetForUpdate(ctx, tx, holdID)
	if err != nil {
		if errors.Is(err, domain.ErrHoldNotFound) {
			return false, nil
		}
		return false, err
	}
	if hold.Released {
		return false, nil
	}

	a, err := s.accounts.GetForUpdate(ctx, tx, hold.AccountNumber)
	if err != nil {
		return false, err
	}
	if err := s.holds.MarkReleased(ctx, tx, holdID); err != nil {
		return false, err
	}
	if err := s.accounts.ReleaseHold(ctx, tx, a, holdID, hold.Amount); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

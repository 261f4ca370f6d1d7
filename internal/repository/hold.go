package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

const holdColumns = `hold_id, account_number, transaction_id, amount, reason,
	expires_at, released, released_at, created_at`

type HoldRepository struct {
	db *sql.DB
}

func NewHoldRepository(db *sql.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

func (r *HoldRepository) Create(ctx context.Context, tx *sql.Tx, h *domain.BalanceHold) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balance_holds (
			hold_id, account_number, transaction_id, amount, reason, expires_at, released, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		h.HoldID, h.AccountNumber, h.TransactionID, h.Amount, h.Reason, h.ExpiresAt, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", classify(err))
	}
	return nil
}

func (r *HoldRepository) GetByID(ctx context.Context, holdID string) (*domain.BalanceHold, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM balance_holds WHERE hold_id = $1`, holdID,
	)
	h, err := scanHold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrHoldNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return h, nil
}

func (r *HoldRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, holdID string) (*domain.BalanceHold, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM balance_holds WHERE hold_id = $1 FOR UPDATE`, holdID,
	)
	h, err := scanHold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrHoldNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", classify(err))
	}
	return h, nil
}

func (r *HoldRepository) MarkReleased(ctx context.Context, tx *sql.Tx, holdID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE balance_holds SET released = true, released_at = now()
		WHERE hold_id = $1 AND NOT released`,
		holdID,
	)
	if err != nil {
		return fmt.Errorf("MarkReleased: %w", classify(err))
	}
	if err := expectOneRow(res, domain.ErrHoldNotFound); err != nil {
		return fmt.Errorf("MarkReleased: %w", err)
	}
	return nil
}

func (r *HoldRepository) ListActive(ctx context.Context, accountNumber string) ([]domain.BalanceHold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM balance_holds
		WHERE account_number = $1 AND NOT released ORDER BY created_at`,
		accountNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	defer rows.Close()

	holds := []domain.BalanceHold{}
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("ListActive: scan: %w", err)
		}
		holds = append(holds, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListActive: rows: %w", err)
	}
	return holds, nil
}

func scanHold(s scanner) (*domain.BalanceHold, error) {
	var (
		h          domain.BalanceHold
		releasedAt sql.NullTime
	)
	err := s.Scan(
		&h.HoldID, &h.AccountNumber, &h.TransactionID, &h.Amount, &h.Reason,
		&h.ExpiresAt, &h.Released, &releasedAt, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		h.ReleasedAt = &t
	}
	return &h, nil
}

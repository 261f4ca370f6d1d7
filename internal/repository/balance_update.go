package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

const balanceUpdateColumns = `update_id, account_number, transaction_id, operation, amount,
	previous_balance, new_balance, session_id, created_at`

type BalanceUpdateRepository struct {
	db *sql.DB
}

func NewBalanceUpdateRepository(db *sql.DB) *BalanceUpdateRepository {
	return &BalanceUpdateRepository{db: db}
}

func (r *BalanceUpdateRepository) Create(ctx context.Context, tx *sql.Tx, u *domain.BalanceUpdate) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balance_updates (
			update_id, account_number, transaction_id, operation, amount,
			previous_balance, new_balance, session_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.UpdateID, u.AccountNumber, u.TransactionID, u.Operation, u.Amount,
		u.PreviousBalance, u.NewBalance, u.SessionID, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", classify(err))
	}
	return nil
}

// ListByAccount returns the newest limit updates for an account, newest first.
func (r *BalanceUpdateRepository) ListByAccount(ctx context.Context, accountNumber string, limit int) ([]domain.BalanceUpdate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+balanceUpdateColumns+` FROM balance_updates
		WHERE account_number = $1
		ORDER BY created_at DESC, update_id DESC
		LIMIT $2`,
		accountNumber, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	updates := []domain.BalanceUpdate{}
	for rows.Next() {
		var u domain.BalanceUpdate
		if err := rows.Scan(
			&u.UpdateID, &u.AccountNumber, &u.TransactionID, &u.Operation, &u.Amount,
			&u.PreviousBalance, &u.NewBalance, &u.SessionID, &u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ListByAccount: scan: %w", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByAccount: rows: %w", err)
	}
	return updates, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

const accountColumns = `account_number, customer_id, customer_name, account_type, currency,
	balance, available_balance, overdraft_limit, daily_withdrawal_limit, daily_transfer_limit,
	transaction_count, total_deposits, total_withdrawals, status, active_holds, version,
	last_transaction_at, created_at, updated_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// CreateIfAbsent inserts the account unless one with the same number exists.
// It reports whether a row was inserted.
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, a *domain.Account) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (
			account_number, customer_id, customer_name, account_type, currency,
			balance, available_balance, overdraft_limit, daily_withdrawal_limit, daily_transfer_limit,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (account_number) DO NOTHING`,
		a.AccountNumber, a.CustomerID, a.CustomerName, a.AccountType, a.Currency,
		a.Balance, a.AvailableBalance, a.OverdraftLimit, a.DailyWithdrawalLimit, a.DailyTransferLimit,
		a.Status, a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("CreateIfAbsent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CreateIfAbsent: rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByNumber: %w", domain.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("GetByNumber: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, number string) (*domain.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1 FOR UPDATE`, number,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", classify(err))
	}
	return a, nil
}

// ApplyMovement writes a debit (negative delta) or credit (positive delta)
// against an account previously read at a.Version.
func (r *AccountRepository) ApplyMovement(ctx context.Context, tx *sql.Tx, a *domain.Account, delta int64, at time.Time) error {
	var deposits, withdrawals int64
	if delta > 0 {
		deposits = delta
	} else {
		withdrawals = -delta
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET
			balance = balance + $1,
			available_balance = available_balance + $1,
			total_deposits = total_deposits + $2,
			total_withdrawals = total_withdrawals + $3,
			transaction_count = transaction_count + 1,
			last_transaction_at = $4,
			updated_at = $4,
			version = version + 1
		WHERE account_number = $5 AND version = $6`,
		delta, deposits, withdrawals, at, a.AccountNumber, a.Version,
	)
	if err != nil {
		return fmt.Errorf("ApplyMovement: %w", classify(err))
	}
	if err := expectOneRow(res, domain.ErrVersionConflict); err != nil {
		return fmt.Errorf("ApplyMovement: %w", err)
	}
	return nil
}

// ReserveHold lowers available balance by amount and records holdID as active.
func (r *AccountRepository) ReserveHold(ctx context.Context, tx *sql.Tx, a *domain.Account, holdID string, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET
			available_balance = available_balance - $1,
			active_holds = array_append(active_holds, $2),
			updated_at = now(),
			version = version + 1
		WHERE account_number = $3 AND version = $4`,
		amount, holdID, a.AccountNumber, a.Version,
	)
	if err != nil {
		return fmt.Errorf("ReserveHold: %w", classify(err))
	}
	if err := expectOneRow(res, domain.ErrVersionConflict); err != nil {
		return fmt.Errorf("ReserveHold: %w", err)
	}
	return nil
}

// ReleaseHold is the inverse of ReserveHold.
func (r *AccountRepository) ReleaseHold(ctx context.Context, tx *sql.Tx, a *domain.Account, holdID string, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET
			available_balance = available_balance + $1,
			active_holds = array_remove(active_holds, $2),
			updated_at = now(),
			version = version + 1
		WHERE account_number = $3 AND version = $4`,
		amount, holdID, a.AccountNumber, a.Version,
	)
	if err != nil {
		return fmt.Errorf("ReleaseHold: %w", classify(err))
	}
	if err := expectOneRow(res, domain.ErrVersionConflict); err != nil {
		return fmt.Errorf("ReleaseHold: %w", err)
	}
	return nil
}

func scanAccount(s scanner) (*domain.Account, error) {
	var (
		a     domain.Account
		holds []string
		last  sql.NullTime
	)
	err := s.Scan(
		&a.AccountNumber, &a.CustomerID, &a.CustomerName, &a.AccountType, &a.Currency,
		&a.Balance, &a.AvailableBalance, &a.OverdraftLimit, &a.DailyWithdrawalLimit, &a.DailyTransferLimit,
		&a.TransactionCount, &a.TotalDeposits, &a.TotalWithdrawals, &a.Status, pq.Array(&holds), &a.Version,
		&last, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		a.LastTransactionAt = &t
	}
	a.ActiveHolds = holds
	if a.ActiveHolds == nil {
		a.ActiveHolds = []string{}
	}
	return &a, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

const journalColumns = `journal_id, transaction_id, debit_account, debit_amount,
	credit_account, credit_amount, description, status, session_id, committed, created_at`

type JournalRepository struct {
	db *sql.DB
}

func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// Create fails with domain.ErrDuplicateTransaction when the transaction id
// has already been journaled.
func (r *JournalRepository) Create(ctx context.Context, tx *sql.Tx, j *domain.TransactionJournal) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transaction_journal (
			journal_id, transaction_id, debit_account, debit_amount,
			credit_account, credit_amount, description, status, session_id, committed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		j.JournalID, j.TransactionID, j.DebitAccount, j.DebitAmount,
		j.CreditAccount, j.CreditAmount, j.Description, j.Status, j.SessionID, j.Committed, j.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateTransaction)
		}
		return fmt.Errorf("Create: %w", classify(err))
	}
	return nil
}

func (r *JournalRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.TransactionJournal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+journalColumns+` FROM transaction_journal WHERE transaction_id = $1`, transactionID,
	)
	var j domain.TransactionJournal
	err := row.Scan(
		&j.JournalID, &j.TransactionID, &j.DebitAccount, &j.DebitAmount,
		&j.CreditAccount, &j.CreditAmount, &j.Description, &j.Status, &j.SessionID, &j.Committed, &j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByTransactionID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByTransactionID: %w", err)
	}
	return &j, nil
}

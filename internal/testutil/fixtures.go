package testutil

import (
	"database/sql"
	"testing"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

// SeedAccount inserts an active checking account with the given balance.
func SeedAccount(t *testing.T, db *sql.DB, number string, balance int64) {
	t.Helper()
	SeedAccountWith(t, db, number, balance, 0, domain.AccountStatusActive)
}

func SeedAccountWith(t *testing.T, db *sql.DB, number string, balance, overdraft int64, status domain.AccountStatus) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO accounts (account_number, customer_id, customer_name, balance, available_balance, overdraft_limit, status)
		 VALUES ($1, $2, $3, $4, $4, $5, $6)`,
		number, domain.NewRecordID("CUST"), "Test "+number, balance, overdraft, status,
	)
	if err != nil {
		t.Fatalf("seed account %s: %v", number, err)
	}
}

func GetBalances(t *testing.T, db *sql.DB, number string) (balance, available int64) {
	t.Helper()

	err := db.QueryRow(
		`SELECT balance, available_balance FROM accounts WHERE account_number = $1`, number,
	).Scan(&balance, &available)
	if err != nil {
		t.Fatalf("get balances %s: %v", number, err)
	}
	return balance, available
}

func SumBalances(t *testing.T, db *sql.DB) int64 {
	t.Helper()

	var total int64
	if err := db.QueryRow(`SELECT COALESCE(SUM(balance), 0) FROM accounts`).Scan(&total); err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	return total
}

func CountRows(t *testing.T, db *sql.DB, table, where string, args ...any) int {
	t.Helper()

	query := `SELECT COUNT(*) FROM ` + table
	if where != "" {
		query += ` WHERE ` + where
	}
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

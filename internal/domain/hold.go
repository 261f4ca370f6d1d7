package domain

import "time"

const (
	DefaultHoldReason = "Transaction processing"
	DefaultHoldTTL    = 24 * time.Hour
)

// BalanceHold reserves part of an account's balance. ExpiresAt is recorded
// but nothing releases a hold automatically.
type BalanceHold struct {
	HoldID        string
	AccountNumber string
	TransactionID string
	Amount        int64
	Reason        string
	ExpiresAt     time.Time
	Released      bool
	ReleasedAt    *time.Time
	CreatedAt     time.Time
}

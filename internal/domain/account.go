package domain

import (
	"time"
)

type Currency string

const CurrencyUSD Currency = "USD"

type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeBusiness   AccountType = "business"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeClearing   AccountType = "clearing"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusFrozen    AccountStatus = "frozen"
	AccountStatusClosed    AccountStatus = "closed"
)

const (
	DefaultDailyWithdrawalLimit int64 = 1_000_000
	DefaultDailyTransferLimit   int64 = 5_000_000
)

// Account is the ledger's record of a single customer account. Amounts are
// minor units. AvailableBalance is Balance minus the sum of active holds.
type Account struct {
	AccountNumber        string
	CustomerID           string
	CustomerName         string
	AccountType          AccountType
	Currency             Currency
	Balance              int64
	AvailableBalance     int64
	OverdraftLimit       int64
	DailyWithdrawalLimit int64
	DailyTransferLimit   int64
	TransactionCount     int64
	TotalDeposits        int64
	TotalWithdrawals     int64
	Status               AccountStatus
	ActiveHolds          []string
	Version              int64
	LastTransactionAt    *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Spendable is what a debit may draw on: available funds plus overdraft.
func (a *Account) Spendable() int64 {
	return a.AvailableBalance + a.OverdraftLimit
}

type Balance struct {
	AccountNumber    string
	Balance          int64
	AvailableBalance int64
	OverdraftLimit   int64
}

package domain

import "time"

type Operation string

const (
	OperationDebit  Operation = "debit"
	OperationCredit Operation = "credit"
)

type JournalStatus string

const (
	JournalStatusPending   JournalStatus = "pending"
	JournalStatusCompleted JournalStatus = "completed"
	JournalStatusFailed    JournalStatus = "failed"
	JournalStatusReversed  JournalStatus = "reversed"
)

type BalanceUpdate struct {
	UpdateID        string
	AccountNumber   string
	TransactionID   string
	Operation       Operation
	Amount          int64
	PreviousBalance int64
	NewBalance      int64
	SessionID       string
	CreatedAt       time.Time
}

type TransactionJournal struct {
	JournalID     string
	TransactionID string
	DebitAccount  string
	DebitAmount   int64
	CreditAccount string
	CreditAmount  int64
	Description   string
	Status        JournalStatus
	SessionID     string
	Committed     bool
	CreatedAt     time.Time
}

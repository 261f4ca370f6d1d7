package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
	"github.com/josh-kwaku/ledger-saga/internal/metrics"
	"github.com/josh-kwaku/ledger-saga/internal/repository"
)

var tracer = otel.Tracer("github.com/josh-kwaku/ledger-saga/internal/ledger")

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

type accountRepo interface {
	CreateIfAbsent(ctx context.Context, a *domain.Account) (bool, error)
	GetByNumber(ctx context.Context, number string) (*domain.Account, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, number string) (*domain.Account, error)
	ApplyMovement(ctx context.Context, tx *sql.Tx, a *domain.Account, delta int64, at time.Time) error
	ReserveHold(ctx context.Context, tx *sql.Tx, a *domain.Account, holdID string, amount int64) error
	ReleaseHold(ctx context.Context, tx *sql.Tx, a *domain.Account, holdID string, amount int64) error
}

type holdRepo interface {
	Create(ctx context.Context, tx *sql.Tx, h *domain.BalanceHold) error
	GetForUpdate(ctx context.Context, tx *sql.Tx, holdID string) (*domain.BalanceHold, error)
	MarkReleased(ctx context.Context, tx *sql.Tx, holdID string) error
	ListActive(ctx context.Context, accountNumber string) ([]domain.BalanceHold, error)
}

type balanceUpdateRepo interface {
	Create(ctx context.Context, tx *sql.Tx, u *domain.BalanceUpdate) error
	ListByAccount(ctx context.Context, accountNumber string, limit int) ([]domain.BalanceUpdate, error)
}

type journalRepo interface {
	Create(ctx context.Context, tx *sql.Tx, j *domain.TransactionJournal) error
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.TransactionJournal, error)
}

type Config struct {
	// RetryBudget bounds how long a unit of work is retried after transient
	// conflicts. Zero retries until ctx is done.
	RetryBudget           time.Duration
	DefaultInitialBalance int64
}

// Store is the ledger of record. Every mutation runs as one REPEATABLE READ
// transaction and is retried as a whole on serialization conflicts.
type Store struct {
	db       *repository.DB
	accounts accountRepo
	holds    holdRepo
	updates  balanceUpdateRepo
	journal  journalRepo
	metrics  *metrics.Collector
	cfg      Config
}

func NewStore(db *repository.DB, cfg Config, m *metrics.Collector) *Store {
	conn := db.Conn()
	return &Store{
		db:       db,
		accounts: repository.NewAccountRepository(conn),
		holds:    repository.NewHoldRepository(conn),
		updates:  repository.NewBalanceUpdateRepository(conn),
		journal:  repository.NewJournalRepository(conn),
		metrics:  m,
		cfg:      cfg,
	}
}

type OpenAccount struct {
	AccountNumber string
	CustomerName  string
	// nil uses the configured default
	InitialBalance *int64
	AccountType    domain.AccountType
	OverdraftLimit int64
}

// GetOrCreateAccount returns the account, creating it first when absent. An
// existing account is never modified.
func (s *Store) GetOrCreateAccount(ctx context.Context, req OpenAccount) (*domain.Account, error) {
	number := strings.TrimSpace(req.AccountNumber)
	if number == "" {
		return nil, fmt.Errorf("GetOrCreateAccount: %w: account_number is required", domain.ErrInvalidRequest)
	}
	initial := s.cfg.DefaultInitialBalance
	if req.InitialBalance != nil {
		initial = *req.InitialBalance
	}
	if initial < 0 || req.OverdraftLimit < 0 {
		return nil, fmt.Errorf("GetOrCreateAccount: %w", domain.ErrInvalidAmount)
	}
	accountType := req.AccountType
	if accountType == "" {
		accountType = domain.AccountTypeChecking
	}
	name := req.CustomerName
	if name == "" {
		name = "Customer " + number
	}

	now := time.Now().UTC()
	created, err := s.accounts.CreateIfAbsent(ctx, &domain.Account{
		AccountNumber:        number,
		CustomerID:           domain.NewRecordID("CUST"),
		CustomerName:         name,
		AccountType:          accountType,
		Currency:             domain.CurrencyUSD,
		Balance:              initial,
		AvailableBalance:     initial,
		OverdraftLimit:       req.OverdraftLimit,
		DailyWithdrawalLimit: domain.DefaultDailyWithdrawalLimit,
		DailyTransferLimit:   domain.DefaultDailyTransferLimit,
		Status:               domain.AccountStatusActive,
		CreatedAt:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("GetOrCreateAccount: %w", err)
	}
	if created {
		logging.FromContext(ctx).Info("account created",
			"account_number", number, "initial_balance", domain.FormatAmount(initial))
	}

	a, err := s.accounts.GetByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreateAccount: %w", err)
	}
	return a, nil
}

// CheckFunds reports whether amount can be debited from the account right
// now, along with the current available balance. It never mutates.
func (s *Store) CheckFunds(ctx context.Context, accountNumber string, amount int64) (bool, int64, error) {
	a, err := s.accounts.GetByNumber(ctx, accountNumber)
	if err != nil {
		return false, 0, fmt.Errorf("CheckFunds: %w", err)
	}
	ok := a.Spendable() >= amount
	if !ok {
		logging.FromContext(ctx).Info("insufficient funds",
			"account_number", accountNumber,
			"available", domain.FormatAmount(a.AvailableBalance),
			"overdraft_limit", domain.FormatAmount(a.OverdraftLimit),
			"requested", domain.FormatAmount(amount))
	}
	return ok, a.AvailableBalance, nil
}

func (s *Store) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	a, err := s.accounts.GetByNumber(ctx, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return a, nil
}

func (s *Store) GetBalance(ctx context.Context, accountNumber string) (*domain.Balance, error) {
	a, err := s.accounts.GetByNumber(ctx, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return &domain.Balance{
		AccountNumber:    a.AccountNumber,
		Balance:          a.Balance,
		AvailableBalance: a.AvailableBalance,
		OverdraftLimit:   a.OverdraftLimit,
	}, nil
}

// GetHistory returns the account's most recent balance updates, newest first.
func (s *Store) GetHistory(ctx context.Context, accountNumber string, limit int) ([]domain.BalanceUpdate, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if _, err := s.accounts.GetByNumber(ctx, accountNumber); err != nil {
		return nil, fmt.Errorf("GetHistory: %w", err)
	}
	updates, err := s.updates.ListByAccount(ctx, accountNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("GetHistory: %w", err)
	}
	return updates, nil
}

func (s *Store) ListHolds(ctx context.Context, accountNumber string) ([]domain.BalanceHold, error) {
	if _, err := s.accounts.GetByNumber(ctx, accountNumber); err != nil {
		return nil, fmt.Errorf("ListHolds: %w", err)
	}
	holds, err := s.holds.ListActive(ctx, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("ListHolds: %w", err)
	}
	return holds, nil
}

func (s *Store) GetJournalByTransactionID(ctx context.Context, transactionID string) (*domain.TransactionJournal, error) {
	j, err := s.journal.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("GetJournalByTransactionID: %w", err)
	}
	return j, nil
}

// Ping checks the underlying database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Conn().PingContext(ctx)
}

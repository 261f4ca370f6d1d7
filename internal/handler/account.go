package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/ledger"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
)

type accountStore interface {
	GetOrCreateAccount(ctx context.Context, req ledger.OpenAccount) (*domain.Account, error)
	GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error)
	GetBalance(ctx context.Context, accountNumber string) (*domain.Balance, error)
	CheckFunds(ctx context.Context, accountNumber string, amount int64) (bool, int64, error)
	GetHistory(ctx context.Context, accountNumber string, limit int) ([]domain.BalanceUpdate, error)
	ListHolds(ctx context.Context, accountNumber string) ([]domain.BalanceHold, error)
	PlaceHold(ctx context.Context, req ledger.HoldRequest) (string, error)
	ReleaseHold(ctx context.Context, holdID string) (bool, error)
}

type AccountHandler struct {
	accounts accountStore
}

func NewAccountHandler(accounts accountStore) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type openAccountRequest struct {
	AccountNumber  string `json:"account_number" validate:"required,max=64"`
	CustomerName   string `json:"customer_name" validate:"max=255"`
	InitialBalance *int64 `json:"initial_balance" validate:"omitnil,gte=0"`
	AccountType    string `json:"account_type" validate:"omitempty,oneof=checking savings business investment clearing"`
	OverdraftLimit int64  `json:"overdraft_limit" validate:"gte=0"`
}

type placeHoldRequest struct {
	Amount        int64  `json:"amount" validate:"gt=0"`
	TransactionID string `json:"transaction_id" validate:"max=128"`
	Reason        string `json:"reason" validate:"max=255"`
	TTLSeconds    int64  `json:"ttl_seconds" validate:"gte=0"`
}

type accountDTO struct {
	AccountNumber     string     `json:"account_number"`
	CustomerID        string     `json:"customer_id"`
	CustomerName      string     `json:"customer_name"`
	AccountType       string     `json:"account_type"`
	Currency          string     `json:"currency"`
	Balance           int64      `json:"balance"`
	AvailableBalance  int64      `json:"available_balance"`
	OverdraftLimit    int64      `json:"overdraft_limit"`
	TransactionCount  int64      `json:"transaction_count"`
	TotalDeposits     int64      `json:"total_deposits"`
	TotalWithdrawals  int64      `json:"total_withdrawals"`
	Status            string     `json:"status"`
	ActiveHolds       []string   `json:"active_holds"`
	LastTransactionAt *time.Time `json:"last_transaction_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toAccountDTO(a *domain.Account) accountDTO {
	holds := a.ActiveHolds
	if holds == nil {
		holds = []string{}
	}
	return accountDTO{
		AccountNumber:     a.AccountNumber,
		CustomerID:        a.CustomerID,
		CustomerName:      a.CustomerName,
		AccountType:       string(a.AccountType),
		Currency:          string(a.Currency),
		Balance:           a.Balance,
		AvailableBalance:  a.AvailableBalance,
		OverdraftLimit:    a.OverdraftLimit,
		TransactionCount:  a.TransactionCount,
		TotalDeposits:     a.TotalDeposits,
		TotalWithdrawals:  a.TotalWithdrawals,
		Status:            string(a.Status),
		ActiveHolds:       holds,
		LastTransactionAt: a.LastTransactionAt,
		CreatedAt:         a.CreatedAt,
	}
}

type balanceUpdateDTO struct {
	UpdateID        string    `json:"update_id"`
	TransactionID   string    `json:"transaction_id"`
	Operation       string    `json:"operation"`
	Amount          int64     `json:"amount"`
	PreviousBalance int64     `json:"previous_balance"`
	NewBalance      int64     `json:"new_balance"`
	SessionID       string    `json:"session_id"`
	CreatedAt       time.Time `json:"created_at"`
}

type holdDTO struct {
	HoldID        string    `json:"hold_id"`
	AccountNumber string    `json:"account_number"`
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Reason        string    `json:"reason"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Open returns the account, creating it when it does not exist yet.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.accounts.GetOrCreateAccount(r.Context(), ledger.OpenAccount{
		AccountNumber:  req.AccountNumber,
		CustomerName:   req.CustomerName,
		InitialBalance: req.InitialBalance,
		AccountType:    domain.AccountType(req.AccountType),
		OverdraftLimit: req.OverdraftLimit,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to open account", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(a))
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.accounts.GetAccount(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(a))
}

func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.accounts.GetBalance(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"account_number":    b.AccountNumber,
		"balance":           b.Balance,
		"available_balance": b.AvailableBalance,
		"overdraft_limit":   b.OverdraftLimit,
		"balance_display":   domain.FormatAmount(b.Balance),
	})
}

func (h *AccountHandler) CheckFunds(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must be greater than 0"}})
		return
	}

	ok, available, err := h.accounts.CheckFunds(r.Context(), chi.URLParam(r, "number"), amount)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"sufficient":        ok,
		"available_balance": available,
		"requested":         amount,
	})
}

func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be a positive integer"}})
			return
		}
		limit = n
	}

	updates, err := h.accounts.GetHistory(r.Context(), chi.URLParam(r, "number"), limit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]balanceUpdateDTO, len(updates))
	for i, u := range updates {
		dtos[i] = balanceUpdateDTO{
			UpdateID:        u.UpdateID,
			TransactionID:   u.TransactionID,
			Operation:       string(u.Operation),
			Amount:          u.Amount,
			PreviousBalance: u.PreviousBalance,
			NewBalance:      u.NewBalance,
			SessionID:       u.SessionID,
			CreatedAt:       u.CreatedAt,
		}
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *AccountHandler) Holds(w http.ResponseWriter, r *http.Request) {
	holds, err := h.accounts.ListHolds(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	dtos := make([]holdDTO, len(holds))
	for i, hd := range holds {
		dtos[i] = holdDTO{
			HoldID:        hd.HoldID,
			AccountNumber: hd.AccountNumber,
			TransactionID: hd.TransactionID,
			Amount:        hd.Amount,
			Reason:        hd.Reason,
			ExpiresAt:     hd.ExpiresAt,
			CreatedAt:     hd.CreatedAt,
		}
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *AccountHandler) PlaceHold(w http.ResponseWriter, r *http.Request) {
	var req placeHoldRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	number := chi.URLParam(r, "number")
	holdID, err := h.accounts.PlaceHold(r.Context(), ledger.HoldRequest{
		AccountNumber: number,
		Amount:        req.Amount,
		TransactionID: req.TransactionID,
		Reason:        req.Reason,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("hold placement failed", "account_number", number, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/accounts/%s/holds", number))
	RespondSuccess(w, http.StatusCreated, map[string]string{"hold_id": holdID})
}

func (h *AccountHandler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	holdID := chi.URLParam(r, "id")
	released, err := h.accounts.ReleaseHold(r.Context(), holdID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if !released {
		RespondAppError(w, ErrHoldNotFound, nil)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]any{"hold_id": holdID, "released": true})
}

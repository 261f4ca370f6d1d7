package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{Success: true, Data: data})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// appErrorFor maps a domain error to its API error. Manual intervention is
// checked before the generic transfer failure it also wraps.
func appErrorFor(err error) *AppError {
	switch {
	case errors.Is(err, domain.ErrManualIntervention):
		return ErrManualIntervention
	case errors.Is(err, domain.ErrTransferFailed):
		return ErrTransferFailed
	case errors.Is(err, domain.ErrSagaNotFound):
		return ErrTransferNotFound
	case errors.Is(err, domain.ErrSagaRunning):
		return ErrTransferRunning
	case errors.Is(err, domain.ErrSagaClosed):
		return ErrTransferClosed
	case errors.Is(err, domain.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, domain.ErrHoldNotFound):
		return ErrHoldNotFound
	case errors.Is(err, domain.ErrNotFound):
		return ErrResourceNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, domain.ErrInvalidAccount), errors.Is(err, domain.ErrAccountInactive):
		return ErrInvalidAccount
	case errors.Is(err, domain.ErrSelfTransfer):
		return ErrSelfTransfer
	case errors.Is(err, domain.ErrInvalidAmount):
		return ErrInvalidAmount
	case errors.Is(err, domain.ErrDuplicateTransaction):
		return ErrDuplicateTransaction
	case errors.Is(err, domain.ErrTransientConflict), errors.Is(err, domain.ErrVersionConflict):
		return ErrStoreConflict
	case errors.Is(err, domain.ErrInvalidRequest):
		return ErrInvalidRequest
	}
	return nil
}

func RespondDomainError(w http.ResponseWriter, err error) {
	appErr := appErrorFor(err)
	if appErr == nil {
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}
	RespondAppError(w, appErr, nil)
}

package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Operator is not allowed to perform this action"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrAccountNotFound      = &AppError{http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found"}
	ErrHoldNotFound         = &AppError{http.StatusNotFound, "HOLD_NOT_FOUND", "Hold not found or already released"}
	ErrTransferNotFound     = &AppError{http.StatusNotFound, "TRANSFER_NOT_FOUND", "Transfer not found"}
	ErrInsufficientFunds    = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrInvalidAccount       = &AppError{http.StatusUnprocessableEntity, "INVALID_ACCOUNT", "Account cannot receive or send funds"}
	ErrSelfTransfer         = &AppError{http.StatusUnprocessableEntity, "SELF_TRANSFER_NOT_ALLOWED", "Cannot transfer to the same account"}
	ErrInvalidAmount        = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrDuplicateTransaction = &AppError{http.StatusConflict, "DUPLICATE_TRANSACTION", "Transaction id already used"}
	ErrStoreConflict        = &AppError{http.StatusConflict, "STORE_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrTransferRunning      = &AppError{http.StatusConflict, "TRANSFER_RUNNING", "Transfer has not finished yet"}
	ErrTransferClosed       = &AppError{http.StatusConflict, "TRANSFER_CLOSED", "Transfer already finished"}
	ErrTransferFailed       = &AppError{http.StatusUnprocessableEntity, "TRANSFER_FAILED", "Transfer failed"}
	ErrManualIntervention   = &AppError{http.StatusUnprocessableEntity, "MANUAL_INTERVENTION_REQUIRED", "Transfer needs manual intervention"}
)

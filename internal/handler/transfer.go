package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/ledger-saga/internal/auth"
	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
)

const maxListLimit = 200

type transferEngine interface {
	Start(ctx context.Context, p domain.PaymentDetails) (*domain.SagaRun, bool, error)
	Approve(ctx context.Context, sagaID, managerName string) error
	Describe(ctx context.Context, sagaID string) (*domain.SagaRun, error)
	IsAwaitingApproval(ctx context.Context, sagaID string) (bool, error)
	ApprovedBy(ctx context.Context, sagaID string) (string, error)
	Result(ctx context.Context, sagaID string) (*domain.TransferResult, error)
	History(ctx context.Context, sagaID string) ([]domain.SagaEvent, error)
	List(ctx context.Context, f domain.RunFilter) ([]domain.SagaRun, error)
}

type TransferHandler struct {
	engine transferEngine
}

func NewTransferHandler(engine transferEngine) *TransferHandler {
	return &TransferHandler{engine: engine}
}

type createTransferRequest struct {
	SourceAccount string `json:"source_account" validate:"required,max=64"`
	TargetAccount string `json:"target_account" validate:"required,max=64"`
	Amount        int64  `json:"amount" validate:"gt=0"`
	ReferenceID   string `json:"reference_id" validate:"required,max=128"`
}

type approveRequest struct {
	ManagerName string `json:"manager_name" validate:"max=128"`
}

type transferDTO struct {
	ID               string                 `json:"id"`
	WorkflowType     string                 `json:"workflow_type"`
	SourceAccount    string                 `json:"source_account"`
	TargetAccount    string                 `json:"target_account"`
	Amount           int64                  `json:"amount"`
	AmountDisplay    string                 `json:"amount_display"`
	ReferenceID      string                 `json:"reference_id"`
	State            string                 `json:"state"`
	Status           string                 `json:"status"`
	AwaitingApproval bool                   `json:"awaiting_approval"`
	ApprovedBy       string                 `json:"approved_by,omitempty"`
	Result           *domain.TransferResult `json:"result,omitempty"`
	FailureKind      string                 `json:"failure_kind,omitempty"`
	FailureMessage   string                 `json:"failure_message,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	ClosedAt         *time.Time             `json:"closed_at,omitempty"`
}

func toTransferDTO(run *domain.SagaRun) transferDTO {
	return transferDTO{
		ID:               run.SagaID,
		WorkflowType:     run.WorkflowType,
		SourceAccount:    run.Payment.SourceAccount,
		TargetAccount:    run.Payment.TargetAccount,
		Amount:           run.Payment.Amount,
		AmountDisplay:    domain.FormatAmount(run.Payment.Amount),
		ReferenceID:      run.Payment.ReferenceID,
		State:            string(run.State),
		Status:           string(run.Status),
		AwaitingApproval: run.AwaitingApproval,
		ApprovedBy:       run.ApprovedBy,
		Result:           run.Result,
		FailureKind:      string(run.FailureKind),
		FailureMessage:   run.FailureMessage,
		CreatedAt:        run.CreatedAt,
		UpdatedAt:        run.UpdatedAt,
		ClosedAt:         run.ClosedAt,
	}
}

type eventDTO struct {
	Seq       int64                `json:"seq"`
	Type      string               `json:"type"`
	Data      domain.SagaEventData `json:"data"`
	CreatedAt time.Time            `json:"created_at"`
}

// sagaIDParam accepts a saga id or the bare reference id it was derived from.
func sagaIDParam(r *http.Request) string {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if strings.HasPrefix(id, domain.SagaIDPrefix) {
		return id
	}
	return domain.SagaIDFor(id)
}

func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	run, created, err := h.engine.Start(r.Context(), domain.PaymentDetails{
		SourceAccount: req.SourceAccount,
		TargetAccount: req.TargetAccount,
		Amount:        req.Amount,
		ReferenceID:   req.ReferenceID,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("transfer start failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%s", run.SagaID))
	RespondSuccess(w, status, toTransferDTO(run))
}

func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.RunFilter{
		WorkflowType: q.Get("type"),
		Status:       domain.RunStatus(q.Get("status")),
	}
	if f.Status != "" && !f.Status.IsValid() {
		RespondValidationError(w, []FieldError{{Field: "status", Message: "must be one of: running completed failed"}})
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxListLimit)}})
			return
		}
		f.Limit = limit
	}

	runs, err := h.engine.List(r.Context(), f)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list transfers", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]transferDTO, len(runs))
	for i := range runs {
		dtos[i] = toTransferDTO(&runs[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.Describe(r.Context(), sagaIDParam(r))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toTransferDTO(run))
}

// Result returns the transfer result once the saga has finished. Failed
// sagas answer 422 with the recorded failure.
func (h *TransferHandler) Result(w http.ResponseWriter, r *http.Request) {
	id := sagaIDParam(r)
	result, err := h.engine.Result(r.Context(), id)
	if err == nil {
		RespondSuccess(w, http.StatusOK, result)
		return
	}
	if !errors.Is(err, domain.ErrTransferFailed) {
		RespondDomainError(w, err)
		return
	}

	details := map[string]string{}
	if run, derr := h.engine.Describe(r.Context(), id); derr == nil {
		details["state"] = string(run.State)
		details["kind"] = string(run.FailureKind)
		details["message"] = run.FailureMessage
	}
	appErr := appErrorFor(err)
	if appErr == ErrManualIntervention {
		logging.FromContext(r.Context()).Error("transfer requires manual intervention", "saga_id", id)
	}
	RespondAppError(w, appErr, details)
}

func (h *TransferHandler) History(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.History(r.Context(), sagaIDParam(r))
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]eventDTO, len(events))
	for i, e := range events {
		dtos[i] = eventDTO{Seq: e.Seq, Type: string(e.Type), Data: e.Data, CreatedAt: e.CreatedAt}
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *TransferHandler) AwaitingApproval(w http.ResponseWriter, r *http.Request) {
	awaiting, err := h.engine.IsAwaitingApproval(r.Context(), sagaIDParam(r))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]bool{"awaiting_approval": awaiting})
}

func (h *TransferHandler) ApprovedBy(w http.ResponseWriter, r *http.Request) {
	manager, err := h.engine.ApprovedBy(r.Context(), sagaIDParam(r))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]string{"approved_by": manager})
}

// Approve signals approval on behalf of the authenticated operator. An
// explicit manager_name overrides the operator name from the token.
func (h *TransferHandler) Approve(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.OperatorFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}
	if !claims.CanApprove() {
		RespondAppError(w, ErrForbidden, nil)
		return
	}

	var req approveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	manager := strings.TrimSpace(req.ManagerName)
	if manager == "" {
		manager = claims.Operator
	}

	id := sagaIDParam(r)
	if err := h.engine.Approve(r.Context(), id, manager); err != nil {
		logging.FromContext(r.Context()).Warn("transfer approval failed", "saga_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	run, err := h.engine.Describe(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toTransferDTO(run))
}

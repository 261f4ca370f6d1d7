package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/ledger-saga/internal/auth"
	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

type fakeEngine struct {
	runs     map[string]*domain.SagaRun
	approved map[string]string
	events   []domain.SagaEvent
	startErr error
	lastList domain.RunFilter
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{runs: map[string]*domain.SagaRun{}, approved: map[string]string{}}
}

func (f *fakeEngine) Start(_ context.Context, p domain.PaymentDetails) (*domain.SagaRun, bool, error) {
	if f.startErr != nil {
		return nil, false, f.startErr
	}
	if err := p.Validate(); err != nil {
		return nil, false, fmt.Errorf("Start: %w", err)
	}
	id := domain.SagaIDFor(p.ReferenceID)
	if run, ok := f.runs[id]; ok {
		return run, false, nil
	}
	run := &domain.SagaRun{
		SagaID: id, WorkflowType: domain.WorkflowTypeMoneyTransfer, Payment: p,
		State: domain.SagaStateWithdrawing, Status: domain.RunStatusRunning,
	}
	if p.Amount > 50000 {
		run.State = domain.SagaStateAwaitingApproval
		run.AwaitingApproval = true
	}
	f.runs[id] = run
	return run, true, nil
}

func (f *fakeEngine) get(id string) (*domain.SagaRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, fmt.Errorf("Describe: %w", domain.ErrSagaNotFound)
	}
	return run, nil
}

func (f *fakeEngine) Approve(_ context.Context, id, manager string) error {
	run, err := f.get(id)
	if err != nil {
		return err
	}
	if run.State.IsTerminal() {
		return fmt.Errorf("Approve: %w", domain.ErrSagaClosed)
	}
	run.ApprovedBy = manager
	run.AwaitingApproval = false
	return nil
}

func (f *fakeEngine) Describe(_ context.Context, id string) (*domain.SagaRun, error) {
	return f.get(id)
}

func (f *fakeEngine) IsAwaitingApproval(_ context.Context, id string) (bool, error) {
	run, err := f.get(id)
	if err != nil {
		return false, err
	}
	return run.AwaitingApproval, nil
}

func (f *fakeEngine) ApprovedBy(_ context.Context, id string) (string, error) {
	run, err := f.get(id)
	if err != nil {
		return "", err
	}
	return run.ApprovedBy, nil
}

func (f *fakeEngine) Result(_ context.Context, id string) (*domain.TransferResult, error) {
	run, err := f.get(id)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case domain.RunStatusRunning:
		return nil, fmt.Errorf("Result: %w", domain.ErrSagaRunning)
	case domain.RunStatusFailed:
		return nil, fmt.Errorf("Result: %w: %w: %s", domain.ErrTransferFailed, run.FailureKind.Sentinel(), run.FailureMessage)
	}
	return run.Result, nil
}

func (f *fakeEngine) History(_ context.Context, id string) ([]domain.SagaEvent, error) {
	if _, err := f.get(id); err != nil {
		return nil, err
	}
	return f.events, nil
}

func (f *fakeEngine) List(_ context.Context, filter domain.RunFilter) ([]domain.SagaRun, error) {
	f.lastList = filter
	var out []domain.SagaRun
	for _, run := range f.runs {
		if filter.Status == "" || run.Status == filter.Status {
			out = append(out, *run)
		}
	}
	return out, nil
}

func transferRouter(engine transferEngine, claims *auth.Claims) http.Handler {
	h := NewTransferHandler(engine)
	r := chi.NewRouter()
	r.Post("/transfers", h.Create)
	r.Get("/transfers", h.List)
	r.Get("/transfers/{id}", h.Get)
	r.Get("/transfers/{id}/result", h.Result)
	r.Get("/transfers/{id}/history", h.History)
	r.Get("/transfers/{id}/awaiting-approval", h.AwaitingApproval)
	r.Get("/transfers/{id}/approved-by", h.ApprovedBy)
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if claims != nil {
				req = req.WithContext(auth.ContextWithOperator(req.Context(), claims))
			}
			next.ServeHTTP(w, req)
		})
	}).Post("/transfers/{id}/approve", h.Approve)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestTransferHandler_Create(t *testing.T) {
	engine := newFakeEngine()
	router := transferRouter(engine, nil)
	body := map[string]any{"source_account": "A123", "target_account": "B456", "amount": 25000, "reference_id": "REF1"}

	rec, resp := do(t, router, http.MethodPost, "/transfers", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "/api/v1/transfers/money-transfer-REF1", rec.Header().Get("Location"))
	data := resp.Data.(map[string]any)
	assert.Equal(t, "money-transfer-REF1", data["id"])
	assert.Equal(t, "250.00", data["amount_display"])

	rec, _ = do(t, router, http.MethodPost, "/transfers", body)
	assert.Equal(t, http.StatusOK, rec.Code, "an existing run is returned, not restarted")
	assert.Len(t, engine.runs, 1)
}

func TestTransferHandler_CreateValidation(t *testing.T) {
	router := transferRouter(newFakeEngine(), nil)

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"missing fields", map[string]any{"amount": 10}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"zero amount", map[string]any{"source_account": "A", "target_account": "B", "amount": 0, "reference_id": "R"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown field", map[string]any{"source_account": "A", "bogus": true}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"reference shaped like a saga id", map[string]any{"source_account": "A", "target_account": "B", "amount": 10, "reference_id": "money-transfer-R"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"self transfer", map[string]any{"source_account": "A", "target_account": "A", "amount": 10, "reference_id": "R"}, http.StatusUnprocessableEntity, "SELF_TRANSFER_NOT_ALLOWED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, router, http.MethodPost, "/transfers", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
		})
	}
}

func TestTransferHandler_ValidationReportsJSONFieldNames(t *testing.T) {
	router := transferRouter(newFakeEngine(), nil)

	_, resp := do(t, router, http.MethodPost, "/transfers", map[string]any{"source_account": "A", "target_account": "B", "amount": 1})
	require.NotNil(t, resp.Error)
	fields := resp.Error.Details.([]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "reference_id", fields[0].(map[string]any)["field"])
}

func TestTransferHandler_Queries(t *testing.T) {
	engine := newFakeEngine()
	router := transferRouter(engine, nil)
	_, _, err := engine.Start(context.Background(), domain.PaymentDetails{SourceAccount: "A", TargetAccount: "B", Amount: 60000, ReferenceID: "BIG"})
	require.NoError(t, err)

	rec, resp := do(t, router, http.MethodGet, "/transfers/money-transfer-BIG/awaiting-approval", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp.Data.(map[string]any)["awaiting_approval"])

	rec, resp = do(t, router, http.MethodGet, "/transfers/BIG", nil)
	require.Equal(t, http.StatusOK, rec.Code, "bare reference ids resolve to their saga")
	assert.Equal(t, "awaiting_approval", resp.Data.(map[string]any)["state"])

	rec, resp = do(t, router, http.MethodGet, "/transfers/BIG/result", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TRANSFER_RUNNING", resp.Error.Code)

	rec, resp = do(t, router, http.MethodGet, "/transfers/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TRANSFER_NOT_FOUND", resp.Error.Code)
}

func TestTransferHandler_Approve(t *testing.T) {
	engine := newFakeEngine()
	_, _, err := engine.Start(context.Background(), domain.PaymentDetails{SourceAccount: "A", TargetAccount: "B", Amount: 60000, ReferenceID: "BIG"})
	require.NoError(t, err)

	t.Run("requires operator", func(t *testing.T) {
		rec, resp := do(t, transferRouter(engine, nil), http.MethodPost, "/transfers/BIG/approve", map[string]string{"manager_name": "alice"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "MISSING_TOKEN", resp.Error.Code)
	})

	t.Run("rejects roles that cannot approve", func(t *testing.T) {
		router := transferRouter(engine, &auth.Claims{Operator: "eve", Role: auth.RoleViewer})
		rec, resp := do(t, router, http.MethodPost, "/transfers/BIG/approve", map[string]string{"manager_name": "eve"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "FORBIDDEN", resp.Error.Code)
	})

	t.Run("explicit manager name", func(t *testing.T) {
		router := transferRouter(engine, &auth.Claims{Operator: "ops-bot", Role: auth.RoleOperator})
		rec, resp := do(t, router, http.MethodPost, "/transfers/BIG/approve", map[string]string{"manager_name": "alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", resp.Data.(map[string]any)["approved_by"])
	})

	t.Run("defaults to the operator", func(t *testing.T) {
		router := transferRouter(engine, &auth.Claims{Operator: "bob", Role: auth.RoleManager})
		rec, _ := do(t, router, http.MethodPost, "/transfers/BIG/approve", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		_, resp := do(t, router, http.MethodGet, "/transfers/BIG/approved-by", nil)
		assert.Equal(t, "bob", resp.Data.(map[string]any)["approved_by"])
	})

	t.Run("closed transfer", func(t *testing.T) {
		engine.runs["money-transfer-BIG"].State = domain.SagaStateCompleted
		router := transferRouter(engine, &auth.Claims{Operator: "bob", Role: auth.RoleManager})
		rec, resp := do(t, router, http.MethodPost, "/transfers/BIG/approve", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "TRANSFER_CLOSED", resp.Error.Code)
	})
}

func TestTransferHandler_Result(t *testing.T) {
	engine := newFakeEngine()
	engine.runs["money-transfer-OK"] = &domain.SagaRun{
		SagaID: "money-transfer-OK", State: domain.SagaStateRefunded, Status: domain.RunStatusCompleted,
		Result: &domain.TransferResult{Reverted: true, RefundEffectID: "r1", Message: "Deposit failed"},
	}
	engine.runs["money-transfer-MANUAL"] = &domain.SagaRun{
		SagaID: "money-transfer-MANUAL", State: domain.SagaStateManualInterventionRequired, Status: domain.RunStatusFailed,
		FailureKind: domain.KindManualInterventionRequired, FailureMessage: "Refund failed: bank offline, manual intervention required",
	}
	engine.runs["money-transfer-FAILED"] = &domain.SagaRun{
		SagaID: "money-transfer-FAILED", State: domain.SagaStateWithdrawFailed, Status: domain.RunStatusFailed,
		FailureKind: domain.KindInsufficientFunds, FailureMessage: "Withdraw failed: insufficient funds",
	}
	router := transferRouter(engine, nil)

	rec, resp := do(t, router, http.MethodGet, "/transfers/OK/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, false, data["success"])
	assert.Equal(t, true, data["reverted"])
	assert.Equal(t, "r1", data["refund_effect_id"])

	rec, resp = do(t, router, http.MethodGet, "/transfers/MANUAL/result", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "MANUAL_INTERVENTION_REQUIRED", resp.Error.Code)
	assert.Equal(t, "manual_intervention_required", resp.Error.Details.(map[string]any)["state"])

	rec, resp = do(t, router, http.MethodGet, "/transfers/FAILED/result", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "TRANSFER_FAILED", resp.Error.Code)
	assert.Equal(t, "InsufficientFunds", resp.Error.Details.(map[string]any)["kind"])
}

func TestTransferHandler_List(t *testing.T) {
	engine := newFakeEngine()
	router := transferRouter(engine, nil)

	rec, _ := do(t, router, http.MethodGet, "/transfers?status=failed&type=MoneyTransfer&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunFilter{WorkflowType: "MoneyTransfer", Status: domain.RunStatusFailed, Limit: 5}, engine.lastList)

	rec, resp := do(t, router, http.MethodGet, "/transfers?status=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)

	rec, _ = do(t, router, http.MethodGet, "/transfers?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferHandler_History(t *testing.T) {
	engine := newFakeEngine()
	engine.runs["money-transfer-H"] = &domain.SagaRun{SagaID: "money-transfer-H"}
	engine.events = []domain.SagaEvent{
		{SagaID: "money-transfer-H", Seq: 1, Type: domain.SagaEventStarted},
		{SagaID: "money-transfer-H", Seq: 2, Type: domain.SagaEventActivityScheduled, Data: domain.SagaEventData{Activity: domain.ActivityWithdraw}},
	}

	rec, resp := do(t, transferRouter(engine, nil), http.MethodGet, "/transfers/H/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := resp.Data.([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "activity_scheduled", events[1].(map[string]any)["type"])
}

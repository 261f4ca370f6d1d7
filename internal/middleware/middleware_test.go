package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/ledger-saga/internal/auth"
	"github.com/josh-kwaku/ledger-saga/internal/metrics"
)

const testSecret = "middleware-secret"

func TestTracing_RequestID(t *testing.T) {
	var seen string
	h := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestOperatorAuth(t *testing.T) {
	var operator string
	h := OperatorAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := auth.OperatorFromContext(r.Context())
		require.True(t, ok)
		operator = c.Operator
		w.WriteHeader(http.StatusNoContent)
	}))

	valid, err := auth.GenerateToken("alice", auth.RoleManager, testSecret, time.Hour)
	require.NoError(t, err)
	foreign, err := auth.GenerateToken("alice", auth.RoleManager, "other-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad signature", "Bearer " + foreign, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
	assert.Equal(t, "alice", operator)
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestLogging_RecordsRoutePattern(t *testing.T) {
	m := metrics.NewCollector()
	r := chi.NewRouter()
	r.Use(Logging(m))
	r.Get("/transfers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transfers/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	body := scrape(t, m)
	assert.Contains(t, body, `http_requests_total{method="GET",route="/transfers/{id}",status="418"} 1`)
	assert.NotContains(t, body, `route="/health"`)
}

func scrape(t *testing.T, m *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

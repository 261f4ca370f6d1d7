package middleware

import (
	"net/http"
	"strings"

	"github.com/josh-kwaku/ledger-saga/internal/auth"
	"github.com/josh-kwaku/ledger-saga/internal/handler"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
)

// OperatorAuth requires a valid operator bearer token and puts its claims on
// the request context.
func OperatorAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				logging.FromContext(r.Context()).Warn("rejected operator token", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithOperator(r.Context(), claims)
			ctx = logging.WithAttrs(ctx, "operator", claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

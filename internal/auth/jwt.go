package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleOperator = "operator"
	RoleManager  = "manager"
	// viewers may only read transfers
	RoleViewer = "viewer"

	issuer = "ledger-saga"
)

var ErrUnknownRole = errors.New("unknown operator role")

// Claims identify the operator behind a request.
type Claims struct {
	Operator string
	Role     string
	TokenID  string
}

// CanApprove reports whether the operator may signal transfer approval.
func (c *Claims) CanApprove() bool {
	return c.Role == RoleManager || c.Role == RoleOperator
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func GenerateToken(operator, role, secret string, expiry time.Duration) (string, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", fmt.Errorf("GenerateToken: operator is required")
	}
	switch role {
	case RoleOperator, RoleManager, RoleViewer:
	default:
		return "", fmt.Errorf("GenerateToken: %w: %q", ErrUnknownRole, role)
	}

	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operator,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("ValidateToken: %w: missing subject", jwt.ErrTokenInvalidClaims)
	}

	return &Claims{
		Operator: tc.Subject,
		Role:     tc.Role,
		TokenID:  tc.ID,
	}, nil
}

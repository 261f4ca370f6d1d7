package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("alice", RoleManager, testSecret, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.Equal(t, RoleManager, claims.Role)
	assert.NotEmpty(t, claims.TokenID)
	assert.True(t, claims.CanApprove())
}

func TestGenerateToken_RequiresOperator(t *testing.T) {
	_, err := GenerateToken("  ", RoleOperator, testSecret, time.Hour)
	require.Error(t, err)
}

func TestGenerateToken_RejectsUnknownRole(t *testing.T) {
	_, err := GenerateToken("alice", "admin", testSecret, time.Hour)
	require.ErrorIs(t, err, ErrUnknownRole)

	token, err := GenerateToken("alice", RoleViewer, testSecret, time.Hour)
	require.NoError(t, err)
	claims, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	assert.False(t, claims.CanApprove())
}

func TestValidateToken(t *testing.T) {
	validToken, err := GenerateToken("alice", RoleOperator, testSecret, time.Hour)
	require.NoError(t, err)

	expiredToken, err := GenerateToken("alice", RoleOperator, testSecret, -time.Hour)
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "mallory",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignToken, err := foreign.SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		secret    string
		wantErrIs error
	}{
		{"expired token", expiredToken, testSecret, jwt.ErrTokenExpired},
		{"wrong secret", validToken, "wrong-secret", jwt.ErrTokenSignatureInvalid},
		{"wrong issuer", foreignToken, testSecret, jwt.ErrTokenInvalidIssuer},
		{"malformed token", "not.a.valid.jwt", testSecret, jwt.ErrTokenMalformed},
		{"empty token", "", testSecret, jwt.ErrTokenMalformed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateToken(tc.token, tc.secret)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErrIs)
		})
	}
}

func TestValidateToken_RejectsNonHMAC(t *testing.T) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleManager,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(signed, testSecret)
	require.Error(t, err)
}

func TestClaims_CanApprove(t *testing.T) {
	assert.True(t, (&Claims{Role: RoleOperator}).CanApprove())
	assert.False(t, (&Claims{Role: RoleViewer}).CanApprove())
}

func TestOperatorContext(t *testing.T) {
	_, ok := OperatorFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithOperator(context.Background(), &Claims{Operator: "bob"})
	c, ok := OperatorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "bob", c.Operator)
}

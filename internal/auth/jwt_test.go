package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidate(t *testing.T) {
	svc := NewJWTService("secret", 1)
	tok, err := svc.Generate("ops-dashboard", RoleOperator, 0)
	require.NoError(t, err)

	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops-dashboard", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestGenerateUnknownRole(t *testing.T) {
	_, err := NewJWTService("secret", 1).Generate("x", "admin", 0)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", 1)

	other, err := NewJWTService("other", 1).Generate("x", RoleReader, 0)
	require.NoError(t, err)
	_, err = svc.Validate(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: RoleReader,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	raw, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	})
	raw, err = foreign.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

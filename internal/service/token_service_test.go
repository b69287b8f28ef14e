package service

import (
	"testing"
	"time"

	"rfid-wallet-ledger/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "test-issuer")

	for _, kind := range []domain.PrincipalKind{domain.PrincipalCustomer, domain.PrincipalMerchant, domain.PrincipalAdmin} {
		p := domain.Principal{ID: uuid.New(), Kind: kind}

		tokenStr, expiresAt, err := svc.Generate(p)
		require.NoError(t, err)
		assert.True(t, expiresAt.After(time.Now()))

		got, err := svc.Validate(tokenStr)
		require.NoError(t, err)
		assert.Equal(t, p, *got)
	}
}

func TestJWTTokenService_RejectsUnknownKind(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "test-issuer")

	_, _, err := svc.Generate(domain.Principal{ID: uuid.New(), Kind: "ROOT"})
	assert.Error(t, err)
}

func TestJWTTokenService_ExpiredToken(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, -1*time.Hour, "test-issuer")

	tokenStr, _, err := svc.Generate(domain.Principal{ID: uuid.New(), Kind: domain.PrincipalCustomer})
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_InvalidSignature(t *testing.T) {
	svc1 := NewJWTTokenService("secret-1", time.Hour, "issuer")
	svc2 := NewJWTTokenService("secret-2", time.Hour, "issuer")

	tokenStr, _, err := svc1.Generate(domain.Principal{ID: uuid.New(), Kind: domain.PrincipalMerchant})
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_WrongIssuer(t *testing.T) {
	svc1 := NewJWTTokenService(testJWTSecret, time.Hour, "other-system")
	svc2 := NewJWTTokenService(testJWTSecret, time.Hour, "rfid-wallet-ledger")

	tokenStr, _, err := svc1.Generate(domain.Principal{ID: uuid.New(), Kind: domain.PrincipalAdmin})
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_RejectsNoneAlgorithm(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer")

	claims := jwt.MapClaims{
		"sub":  uuid.NewString(),
		"kind": "ADMIN",
		"iss":  "issuer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(unsigned)
	assert.Error(t, err)
}

func TestJWTTokenService_InvalidTokenString(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer")

	_, err := svc.Validate("not.a.valid.jwt")
	assert.Error(t, err)

	_, err = svc.Validate("")
	assert.Error(t, err)
}

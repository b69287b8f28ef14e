package service

import (
	"fmt"
	"time"

	"rfid-wallet-ledger/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// principalClaims carries the caller identity. Subject is the principal id.
type principalClaims struct {
	Kind domain.PrincipalKind `json:"kind"`
	jwt.RegisteredClaims
}

// JWTTokenService implements ports.TokenService using HS256 JWT.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTTokenService creates a new JWT token service.
func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
	}
}

// Generate creates a signed JWT for the given principal.
func (s *JWTTokenService) Generate(principal domain.Principal) (string, time.Time, error) {
	if !principal.Kind.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown principal kind %q", principal.Kind)
	}

	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := principalClaims{
		Kind: principal.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns the principal it was issued to.
func (s *JWTTokenService) Validate(tokenString string) (*domain.Principal, error) {
	claims := &principalClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid principal ID in token: %w", err)
	}
	if !claims.Kind.Valid() {
		return nil, fmt.Errorf("invalid principal kind %q in token", claims.Kind)
	}

	return &domain.Principal{ID: id, Kind: claims.Kind}, nil
}

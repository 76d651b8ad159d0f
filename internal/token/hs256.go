// internal/token/hs256.go
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// hs256 implements Signer and Verifier over a symmetric key.
type hs256 struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewHS256 создаёт подписанта/верификатор с симметричным ключом.
func NewHS256(secret, issuer, audience string, accessTTL, refreshTTL time.Duration) (Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token: secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token: TTLs must be positive")
	}
	return &hs256{
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (s *hs256) Generate(sub Subject, typ Type) (string, *Claims, error) {
	if sub.UserID == "" {
		return "", nil, fmt.Errorf("token: subject user id is required")
	}

	ttl := s.accessTTL
	if typ == RefreshToken {
		ttl = s.refreshTTL
	}
	now := s.now()

	claims := &Claims{
		UserID:    sub.UserID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.UserID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	// Refresh tokens stay minimal: identity data is only trusted from
	// access tokens.
	if typ == AccessToken {
		claims.Username = sub.Username
		claims.RoleID = sub.RoleID
		if !sub.LastLogin.IsZero() {
			claims.LastLogin = sub.LastLogin.Unix()
		}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("token: sign: %w", err)
	}
	return signed, claims, nil
}

func (s *hs256) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		default:
			return nil, ErrMalformed
		}
	}
	if claims.TokenType != AccessToken && claims.TokenType != RefreshToken {
		return nil, ErrMalformed
	}
	return claims, nil
}

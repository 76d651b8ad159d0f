// internal/token/token.go
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Type категоризирует выданный токен.
type Type string

const (
	AccessToken  Type = "access"
	RefreshToken Type = "refresh"
)

// Decode error taxonomy. Callers must not be able to learn more about a
// rejected token than the kind.
var (
	ErrExpired      = errors.New("token: expired")
	ErrBadSignature = errors.New("token: bad signature")
	ErrMalformed    = errors.New("token: malformed")
)

// Subject is the identity snapshot baked into an access token.
type Subject struct {
	UserID    string
	Username  string
	RoleID    string
	LastLogin time.Time
}

// Claims is the payload carried by both token kinds. Refresh tokens only
// populate UserID and TokenType.
type Claims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
	LastLogin int64  `json:"last_login,omitempty"` // unix seconds
	TokenType Type   `json:"token_type"`
	jwt.RegisteredClaims
}

// Signer issues signed tokens.
type Signer interface {
	Generate(sub Subject, typ Type) (string, *Claims, error)
}

// Verifier parses and validates tokens. Implementations are pure and
// safe for concurrent use.
type Verifier interface {
	Parse(token string) (*Claims, error)
}

// Codec signs and verifies with the same key material.
type Codec interface {
	Signer
	Verifier
}

package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Anonymity invariant: UserID is an opaque participant id minted at session
// creation. Alias is a display handle only and must never be treated as an
// identity; it is absent from refresh tokens.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Alias     string    `json:"alias,omitempty"`
	TokenType TokenType `json:"token_type"`
}

package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID string
	// JTI identifies the authentication event; a fresh login mints a fresh id.
	JTI string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Identity is the subset of the claims the storefront client relies on.
type Identity struct {
	UserID      string
	AuthEventID string
	Token       string
}

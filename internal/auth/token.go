package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoJWKS       = errors.New("no JWKS URL provided")
)

// StandardClaims is the subset of JWT claims this service reads off an
// authenticated request.
type StandardClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenValidator validates a bearer token and returns the caller's user id.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

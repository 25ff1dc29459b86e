package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims identify a caller of the job and admin endpoints. Subject names the
// service or operator (e.g. "worker", "ops:alice"); Role drives RBAC.
type Claims struct {
	jwt.RegisteredClaims

	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

package models

import "github.com/golang-jwt/jwt/v5"

// Identity carries the authenticated caller attributes used by canary rules.
// Anonymous requests have an empty UserID; identity rules simply never match.
type Identity struct {
	UserID string   `json:"user_id"`
	Groups []string `json:"groups"`
}

// IdentityClaims is the JWT claim set the gateway understands.
type IdentityClaims struct {
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

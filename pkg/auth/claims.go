// Package auth provides JWT-based authentication for labbook-engine.
// It validates tokens issued by the institution's identity provider using
// JWKS endpoints. The engine never issues tokens itself.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Role values carried in token claims.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
)

// Claims represents the JWT claims structure from the identity provider.
// It embeds RegisteredClaims for standard JWT fields (sub, iss, exp, etc.)
// and adds the custom claims the engine cares about.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"` // User email address
	Name  string   `json:"name,omitempty"`  // Display name
	Roles []string `json:"roles,omitempty"` // User roles (student, instructor)
}

// UserID returns the token subject, the engine's user identifier.
func (c *Claims) UserID() string {
	return c.Subject
}

// HasRole reports whether the claims carry the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsInstructor reports whether the user holds the instructor role.
func (c *Claims) IsInstructor() bool {
	return c.HasRole(RoleInstructor)
}

// IsStudent reports whether the user holds the student role.
func (c *Claims) IsStudent() bool {
	return c.HasRole(RoleStudent)
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// WithClaims stores claims in the context. Used by the middleware and by
// tests that exercise handlers directly.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

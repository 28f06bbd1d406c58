// Package auth issues and validates the JWTs that authenticate API requests.
// Tokens are HS256-signed locally at login; tokens from additional issuers
// are accepted when their JWKS endpoint is configured.
package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omnifin/backoffice/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
	// PrincipalKey is the context key for the resolved access identity.
	PrincipalKey contextKey = "principal"
)

// Claims represents the JWT claims structure.
// Subject carries the numeric user id.
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
	GroupID *int64 `json:"gid,omitempty"`
}

// UserID parses the subject as a user id.
func (c *Claims) UserID() (int64, error) {
	if c.Subject == "" {
		return 0, fmt.Errorf("missing subject in JWT claims")
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject %q: %w", c.Subject, err)
	}
	return id, nil
}

// Principal converts claims into an access identity.
// Unknown or missing roles degrade to simple.
func (c *Claims) Principal() (models.Principal, error) {
	id, err := c.UserID()
	if err != nil {
		return models.Principal{}, err
	}
	role := models.Role(c.Role)
	if !models.IsValidRole(c.Role) {
		role = models.RoleSimple
	}
	return models.Principal{UserID: id, Role: role, GroupID: c.GroupID}, nil
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

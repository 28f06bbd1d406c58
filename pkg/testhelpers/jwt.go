// Package testhelpers provides utilities for testing back office components.
package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/models"
)

// TestJWTSecret signs tokens minted by NewTestJWTManager.
const TestJWTSecret = "omnifin-test-secret"

// NewTestJWTManager returns a JWTManager with a fixed secret and issuer.
func NewTestJWTManager(t *testing.T) *auth.JWTManager {
	t.Helper()
	m, err := auth.NewJWTManager(context.Background(), &auth.JWTConfig{
		Secret: []byte(TestJWTSecret),
		Issuer: "omnifin-test",
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create JWT manager: %v", err)
	}
	return m
}

// GenerateTestJWTWithBearer returns an Authorization header value for user.
func GenerateTestJWTWithBearer(t *testing.T, m *auth.JWTManager, user *models.User) string {
	t.Helper()
	token, _, err := m.IssueToken(user)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return "Bearer " + token
}

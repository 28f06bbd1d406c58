package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/models"
)

// Bearer tokens understood by fakeAuthService, one per role.
const (
	tokenSimple     = "token-simple"
	tokenSuper      = "token-super"
	tokenAdmin      = "token-admin"
	tokenSuperadmin = "token-superadmin"
	tokenDisabled   = "token-disabled"
)

var testGroupID int64 = 1

var testPrincipals = map[string]models.Principal{
	tokenSimple:     {UserID: 10, Role: models.RoleSimple, GroupID: &testGroupID},
	tokenSuper:      {UserID: 20, Role: models.RoleSuper, GroupID: &testGroupID},
	tokenAdmin:      {UserID: 30, Role: models.RoleAdmin, GroupID: &testGroupID},
	tokenSuperadmin: {UserID: 40, Role: models.RoleSuperadmin},
}

// fakeAuthService accepts the tokens above without any signature checks.
type fakeAuthService struct{}

func (fakeAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, "", auth.ErrMissingAuthorization
	}
	claims := &auth.Claims{}
	claims.Subject = token
	return claims, token, nil
}

func (fakeAuthService) Principal(_ context.Context, claims *auth.Claims) (models.Principal, error) {
	if claims.Subject == tokenDisabled {
		return models.Principal{}, auth.ErrInactivePrincipal
	}
	p, ok := testPrincipals[claims.Subject]
	if !ok {
		return models.Principal{}, errors.New("unknown token")
	}
	return p, nil
}

func newTestAuthMiddleware() *auth.Middleware {
	return auth.NewMiddleware(fakeAuthService{}, zap.NewNop())
}

// passthroughScope stands in for the database request scope.
func passthroughScope(next http.HandlerFunc) http.HandlerFunc {
	return next
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/models"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrInactivePrincipal    = errors.New("account is disabled")
)

// CookieName is the cookie browser clients carry the token in.
const CookieName = "omnifin_jwt"

// PrincipalResolver loads the current role and group of a user so that
// role changes and deactivation take effect before a token expires.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, userID int64) (models.Principal, error)
}

// AuthService defines the interface for authentication operations.
type AuthService interface {
	// ValidateRequest extracts and validates a JWT from the request.
	// It checks for the token in:
	//   1. Cookie named "omnifin_jwt" (browser clients)
	//   2. Authorization header with "Bearer" scheme (API clients)
	// Returns the validated claims, the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// Principal turns validated claims into the identity used for access checks.
	Principal(ctx context.Context, claims *Claims) (models.Principal, error)
}

type authService struct {
	validator TokenValidator
	resolver  PrincipalResolver
	logger    *zap.Logger
}

// NewAuthService creates a new AuthService. resolver may be nil, in which case
// the role and group embedded in the token are trusted.
func NewAuthService(validator TokenValidator, resolver PrincipalResolver, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		resolver:  resolver,
		logger:    logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	var tokenString string
	var tokenSource string

	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		tokenString = cookie.Value
		tokenSource = "cookie"
	} else {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.logger.Debug("No JWT found in request",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method))
			return nil, "", ErrMissingAuthorization
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			s.logger.Debug("Invalid Authorization header format",
				zap.String("path", r.URL.Path))
			return nil, "", ErrInvalidAuthFormat
		}
		tokenString = token
		tokenSource = "header"
	}

	claims, err := s.validator.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", tokenSource))
		return nil, "", err
	}

	return claims, tokenString, nil
}

func (s *authService) Principal(ctx context.Context, claims *Claims) (models.Principal, error) {
	p, err := claims.Principal()
	if err != nil {
		return models.Principal{}, err
	}
	if s.resolver == nil {
		return p, nil
	}
	return s.resolver.ResolvePrincipal(ctx, p.UserID)
}

var _ AuthService = (*authService)(nil)

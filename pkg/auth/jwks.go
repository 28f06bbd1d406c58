package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/omnifin/backoffice/pkg/models"
)

// TokenValidator validates JWTs and returns their claims.
type TokenValidator interface {
	// ValidateToken returns an error if the token is invalid, expired, or has an unauthorized issuer.
	ValidateToken(tokenString string) (*Claims, error)
	// Close releases any resources held by the validator.
	Close()
}

// TokenIssuer mints access tokens for authenticated users.
type TokenIssuer interface {
	IssueToken(user *models.User) (string, time.Time, error)
}

// JWTConfig configures local signing and external verification.
type JWTConfig struct {
	// Secret signs and verifies locally issued HS256 tokens.
	Secret []byte
	// Issuer is the iss claim of locally issued tokens.
	Issuer string
	// TTL is the lifetime of issued tokens.
	TTL time.Duration
	// JWKSEndpoints maps external issuer URLs to JWKS URLs.
	// Tokens from these issuers are verified with the published keys.
	JWKSEndpoints map[string]string
}

// JWTManager issues local tokens and validates local and external ones.
type JWTManager struct {
	config    *JWTConfig
	endpoints map[string]keyfunc.Keyfunc
	now       func() time.Time
}

// NewJWTManager creates a JWTManager. It fetches JWKS from every configured endpoint
// and returns an error if any fails to load.
func NewJWTManager(ctx context.Context, config *JWTConfig) (*JWTManager, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	m := &JWTManager{
		config:    config,
		endpoints: make(map[string]keyfunc.Keyfunc),
		now:       time.Now,
	}

	for issuer, jwksURL := range config.JWKSEndpoints {
		jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
		}
		m.endpoints[issuer] = jwks
	}

	return m, nil
}

// IssueToken signs an HS256 token carrying the user's id, role and group.
func (m *JWTManager) IssueToken(user *models.User) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.config.TTL)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Email:   user.Email,
		Role:    string(user.Role),
		GroupID: user.GroupID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken verifies local tokens with the shared secret and external
// tokens with their issuer's JWKS keys.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, errors.New("invalid claims type")
		}

		if claims.Issuer == m.config.Issuer {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.config.Secret, nil
		}

		jwks, exists := m.endpoints[claims.Issuer]
		if !exists {
			return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
		}
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwks.KeyfuncCtx(context.Background())(token)
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}

// Close releases any resources held by the manager.
// keyfunc v3 stops refreshing when its context ends, so there is nothing to do here.
func (m *JWTManager) Close() {}

var (
	_ TokenValidator = (*JWTManager)(nil)
	_ TokenIssuer    = (*JWTManager)(nil)
)

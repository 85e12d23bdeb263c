package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
	jwtpkg "github.com/jrmce/VersionLifecycle-sub000/pkg/jwt"
)

// ErrUnauthorized is returned for missing, malformed or expired tokens.
var ErrUnauthorized = errors.New("auth: invalid token")

// Service issues and verifies bearer tokens carrying the tenant scope.
type Service struct {
	secret string
	ttl    time.Duration
	logger *slog.Logger
}

// New constructs a Service.
func New(secret string, ttl time.Duration, logger *slog.Logger) Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{secret: secret, ttl: ttl, logger: logger}
}

// TokenPair contains an access token and its lifetime.
type TokenPair struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// IssueToken signs a token for a tenant member, or for an operator when role
// is jwt.RoleOperator.
func (s Service) IssueToken(userID, tenantID int64, role string) (TokenPair, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != jwtpkg.RoleOperator && tenantID <= 0 {
		return TokenPair{}, tenant.ErrMissingTenant
	}
	access, err := jwtpkg.GenerateToken(userID, tenantID, role, s.secret, s.ttl)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info("token issued", "user_id", userID, "tenant_id", tenantID, "role", role)
	return TokenPair{AccessToken: access, ExpiresIn: s.ttl}, nil
}

// Authorize validates a bearer token and returns the scope it grants.
func (s Service) Authorize(_ context.Context, token string) (tenant.Scope, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return tenant.Scope{}, nil, ErrUnauthorized
	}
	claims, err := jwtpkg.Parse(trimmed, s.secret)
	if err != nil {
		return tenant.Scope{}, nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.UserID <= 0 {
		return tenant.Scope{}, nil, fmt.Errorf("%w: user claim missing", ErrUnauthorized)
	}
	if claims.Role == jwtpkg.RoleOperator {
		return tenant.Operator(claims.UserID), claims, nil
	}
	scope := tenant.New(claims.TenantID, claims.UserID)
	if err := scope.Validate(); err != nil {
		return tenant.Scope{}, nil, err
	}
	return scope, claims, nil
}

// Package tenant carries the identity that scopes every read and write.
package tenant

import (
	"context"
	"errors"
	"strconv"
)

// ErrMissingTenant indicates an operation was attempted without a tenant scope.
var ErrMissingTenant = errors.New("tenant: scope required")

// Scope identifies the tenant and acting user for a unit of work.
//
// Repositories take a Scope argument on every call; there is no ambient
// tenant filter. CrossTenant scopes bypass tenant filtering entirely and are
// reserved for platform operators and the retry sweep.
type Scope struct {
	TenantID    int64
	UserID      int64
	CrossTenant bool
}

// New returns a scope restricted to a single tenant.
func New(tenantID, userID int64) Scope {
	return Scope{TenantID: tenantID, UserID: userID}
}

// Operator returns a scope that sees every tenant.
func Operator(userID int64) Scope {
	return Scope{UserID: userID, CrossTenant: true}
}

// Validate reports ErrMissingTenant for scopes that identify no tenant.
func (s Scope) Validate() error {
	if s.CrossTenant {
		return nil
	}
	if s.TenantID <= 0 {
		return ErrMissingTenant
	}
	return nil
}

// Allows reports whether a row owned by tenantID is visible to the scope.
func (s Scope) Allows(tenantID int64) bool {
	if s.CrossTenant {
		return true
	}
	return s.TenantID > 0 && s.TenantID == tenantID
}

// Filter returns the tenant id to filter by, or nil when the scope is cross-tenant.
func (s Scope) Filter() *int64 {
	if s.CrossTenant {
		return nil
	}
	id := s.TenantID
	return &id
}

// Key returns a stable string key for per-tenant fan-out (websocket hubs, topics).
func (s Scope) Key() string {
	if s.CrossTenant {
		return "tenant:*"
	}
	return KeyFor(s.TenantID)
}

// KeyFor formats the fan-out key of a tenant id.
func KeyFor(tenantID int64) string {
	return "tenant:" + strconv.FormatInt(tenantID, 10)
}

type contextKey struct{}

// WithScope attaches a scope to ctx. Only the HTTP boundary uses this; services
// receive the scope as an explicit argument.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext extracts the scope attached by WithScope.
func FromContext(ctx context.Context) (Scope, bool) {
	value := ctx.Value(contextKey{})
	if value == nil {
		return Scope{}, false
	}
	s, ok := value.(Scope)
	return s, ok
}

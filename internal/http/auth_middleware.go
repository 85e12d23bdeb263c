package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

var (
	errNoCredentials = errors.New("missing authorization header")
	errBadScheme     = errors.New("invalid authorization header format")
)

// requireAuth validates the caller's token and attaches the tenant scope it
// grants to the request context.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := tokenFromRequest(req)
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		scope, _, err := r.auth.Authorize(req.Context(), token)
		switch {
		case errors.Is(err, tenant.ErrMissingTenant):
			r.logger.Warn("token carries no tenant", "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "tenant scope required")
			return
		case err != nil:
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		recordCaller(req.Context(), scope)
		next(w, req.WithContext(tenant.WithScope(req.Context(), scope)))
	}
}

// tokenFromRequest reads the bearer token. Browsers cannot set headers on
// websocket or EventSource requests, so stream paths also accept the
// access_token query parameter.
func tokenFromRequest(req *http.Request) (string, error) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err == nil {
		return token, nil
	}
	if isStreamPath(req.URL.Path) {
		if fromQuery := strings.TrimSpace(req.URL.Query().Get("access_token")); fromQuery != "" {
			return fromQuery, nil
		}
	}
	return "", err
}

// scopeFromRequest returns the scope attached by requireAuth.
func (r *Router) scopeFromRequest(w http.ResponseWriter, req *http.Request) (tenant.Scope, bool) {
	scope, ok := tenant.FromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return tenant.Scope{}, false
	}
	return scope, true
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errNoCredentials
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errBadScheme
	}
	return strings.TrimSpace(token), nil
}

func isStreamPath(path string) bool {
	return path == "/ws/deployments" || path == "/sse/deployments"
}

package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, tenant.ErrMissingTenant):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

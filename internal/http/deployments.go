package httpx

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/deploy"
)

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			ApplicationID int64  `json:"application_id"`
			VersionID     int64  `json:"version_id"`
			EnvironmentID int64  `json:"environment_id"`
			Notes         string `json:"notes"`
		}
		if err := decodeJSON(w, req, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		deployment, err := r.deploy.CreatePending(req.Context(), scope, deploy.CreateInput{
			ApplicationID: payload.ApplicationID,
			VersionID:     payload.VersionID,
			EnvironmentID: payload.EnvironmentID,
			Notes:         payload.Notes,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, deployment)
	case http.MethodGet:
		query := req.URL.Query()
		var filter domain.DeploymentFilter
		var err error
		if filter.ApplicationID, err = optionalInt64(query.Get("application_id")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid application_id")
			return
		}
		if filter.EnvironmentID, err = optionalInt64(query.Get("environment_id")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid environment_id")
			return
		}
		limit, err := optionalInt64(query.Get("limit"))
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = int(limit)
		deployments, err := r.deploy.List(req.Context(), scope, filter)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, deployments)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := pathParts(req.URL.Path, "/deployments/")
	if len(parts) == 0 || len(parts) > 2 {
		r.notFound(w)
		return
	}
	deploymentID := parts[0]
	if len(parts) == 1 {
		r.handleDeployment(w, req, deploymentID)
		return
	}
	switch parts[1] {
	case "confirm":
		r.handleConfirm(w, req, deploymentID)
	case "status":
		r.handleStatus(w, req, deploymentID)
	case "promote":
		r.handlePromote(w, req, deploymentID)
	case "history":
		r.handleHistory(w, req, deploymentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDeployment(w http.ResponseWriter, req *http.Request, deploymentID string) {
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		deployment, err := r.deploy.Get(req.Context(), scope, deploymentID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, deployment)
	case http.MethodDelete:
		if err := r.deploy.SoftDelete(req.Context(), scope, deploymentID); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleConfirm(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	var payload struct {
		Notes *string `json:"notes"`
	}
	if err := decodeOptionalJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deployment, err := r.deploy.Confirm(req.Context(), scope, deploymentID, payload.Notes)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	var payload struct {
		Status     string  `json:"status"`
		Notes      *string `json:"notes"`
		DurationMs *int64  `json:"duration_ms"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := domain.ParseDeploymentStatus(payload.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deployment, err := r.deploy.UpdateStatus(req.Context(), scope, deploymentID, deploy.StatusInput{
		Status:     status,
		Notes:      payload.Notes,
		DurationMs: payload.DurationMs,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (r *Router) handlePromote(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	var payload struct {
		TargetEnvironmentID int64  `json:"target_environment_id"`
		Notes               string `json:"notes"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.TargetEnvironmentID <= 0 {
		writeError(w, http.StatusBadRequest, "target_environment_id is required")
		return
	}
	deployment, err := r.deploy.Promote(req.Context(), scope, deploymentID, payload.TargetEnvironmentID, payload.Notes)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, deployment)
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	history, err := r.deploy.History(req.Context(), scope, deploymentID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// decodeOptionalJSON accepts an empty body as an empty object.
func decodeOptionalJSON(w http.ResponseWriter, req *http.Request, dst any) error {
	if err := decodeJSON(w, req, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func optionalInt64(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

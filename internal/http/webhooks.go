package httpx

import (
	"net/http"
	"strconv"

	"github.com/jrmce/VersionLifecycle-sub000/internal/service/webhook"
)

func (r *Router) handleWebhooks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	var payload struct {
		ApplicationID int64  `json:"application_id"`
		URL           string `json:"url"`
		Secret        string `json:"secret"`
		Events        string `json:"events"`
		MaxRetries    *int   `json:"max_retries"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	hook, err := r.webhooks.Register(req.Context(), scope, webhook.RegisterInput{
		ApplicationID: payload.ApplicationID,
		URL:           payload.URL,
		Secret:        payload.Secret,
		Events:        payload.Events,
		MaxRetries:    payload.MaxRetries,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

func (r *Router) handleWebhookSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := pathParts(req.URL.Path, "/webhooks/")
	if len(parts) == 0 || len(parts) > 2 {
		r.notFound(w)
		return
	}
	webhookID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || webhookID <= 0 {
		r.notFound(w)
		return
	}
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	if len(parts) == 1 {
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		if err := r.webhooks.Deactivate(req.Context(), scope, webhookID); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if parts[1] != "deliveries" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, err := optionalInt64(req.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit == 0 {
		limit = defaultDeliveryPage
	}
	deliveries, err := r.webhooks.Deliveries(req.Context(), scope, webhookID, int(limit))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}

func (r *Router) handleWebhookEventSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := pathParts(req.URL.Path, "/webhook-events/")
	if len(parts) != 2 || parts[1] != "redeliver" {
		r.notFound(w)
		return
	}
	eventID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || eventID <= 0 {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	event, err := r.webhooks.Redeliver(req.Context(), scope, eventID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

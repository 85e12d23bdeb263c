package httpx

import (
	"net/http"
	"time"

	"github.com/jrmce/VersionLifecycle-sub000/internal/ws"
)

// handleDeploymentsWS streams the caller's tenant events over a websocket.
// Operator tokens receive every tenant's events.
func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger, r.heartbeat)
	r.hub.Register(scope, client)
	r.trackStreamClient("websocket", 1)

	go func() {
		client.Serve()
		r.hub.Unregister(scope, client)
		r.trackStreamClient("websocket", -1)
	}()
}

// handleDeploymentsSSE streams the same events as Server-Sent Events until
// the request is cancelled.
func (r *Router) handleDeploymentsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := r.scopeFromRequest(w, req)
	if !ok {
		return
	}
	client, err := ws.OpenSSE(w, r.logger)
	if err != nil {
		r.logger.Error("sse stream not opened", "error", err)
		return
	}
	r.hub.Register(scope, client)
	r.trackStreamClient("sse", 1)
	defer func() {
		r.hub.Unregister(scope, client)
		client.Close()
		r.trackStreamClient("sse", -1)
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

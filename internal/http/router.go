package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jrmce/VersionLifecycle-sub000/internal/service/auth"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/deploy"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/webhook"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
	"github.com/jrmce/VersionLifecycle-sub000/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	auth      auth.Service
	deploy    deploy.Service
	webhooks  *webhook.Service
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error
	heartbeat time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	streamClients      *prometheus.GaugeVec
}

const (
	healthCheckTimeout  = 2 * time.Second
	streamHeartbeat     = 25 * time.Second
	maxRequestBody      = 1 << 20
	defaultDeliveryPage = 50
)

// Per-caller budgets. Streams get a short window since clients reconnect.
var (
	ruleWrite     = RateRule{Limit: 60, Window: time.Minute}
	ruleRead      = RateRule{Limit: 120, Window: time.Minute}
	ruleRedeliver = RateRule{Limit: 20, Window: time.Minute}
	ruleStream    = RateRule{Limit: 30, Window: 30 * time.Second}
)

type route struct {
	pattern string
	label   string
	public  bool
	rule    RateRule
	handler http.HandlerFunc
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, deploySvc deploy.Service, webhookSvc *webhook.Service, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		deploy:   deploySvc,
		webhooks: webhookSvc,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		limiter:   limiter,
		dbHealth:  dbHealth,
		heartbeat: streamHeartbeat,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.hub == nil {
		r.hub = ws.NewHub()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) routes() []route {
	return []route{
		{pattern: "/healthz", label: "/healthz", public: true, handler: r.handleHealthz},
		{pattern: "/deployments", label: "/deployments", rule: ruleWrite, handler: r.handleDeployments},
		{pattern: "/deployments/", label: "/deployments/:id", rule: ruleRead, handler: r.handleDeploymentSubroutes},
		{pattern: "/webhooks", label: "/webhooks", rule: ruleWrite, handler: r.handleWebhooks},
		{pattern: "/webhooks/", label: "/webhooks/:id", rule: ruleRead, handler: r.handleWebhookSubroutes},
		{pattern: "/webhook-events/", label: "/webhook-events/:id", rule: ruleRedeliver, handler: r.handleWebhookEventSubroutes},
		{pattern: "/ws/deployments", label: "/ws/deployments", rule: ruleStream, handler: r.handleDeploymentsWS},
		{pattern: "/sse/deployments", label: "/sse/deployments", rule: ruleStream, handler: r.handleDeploymentsSSE},
	}
}

func (r *Router) register() {
	r.mux.Handle("/metrics", promhttp.Handler())
	for _, rt := range r.routes() {
		handler := rt.handler
		if !rt.public {
			handler = r.requireAuth(r.limited(rt.label, rt.rule, handler))
		}
		r.mux.HandleFunc(rt.pattern, r.audit(rt.label, handler))
	}
}

type healthReport struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	report := healthReport{
		Status:     "ok",
		Components: make(map[string]componentHealth),
		Timestamp:  time.Now().UTC(),
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			report.Status = "degraded"
			report.Components["database"] = componentHealth{Status: "down", Error: err.Error()}
		} else {
			report.Components["database"] = componentHealth{Status: "up"}
		}
	}
	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// auditRecord is filled in by requireAuth so the access log can name the
// caller after the handler returns.
type auditRecord struct {
	scope         tenant.Scope
	authenticated bool
}

type auditKey struct{}

func recordCaller(ctx context.Context, scope tenant.Scope) {
	if rec, ok := ctx.Value(auditKey{}).(*auditRecord); ok {
		rec.scope = scope
		rec.authenticated = true
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rec := &auditRecord{}
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req.WithContext(context.WithValue(req.Context(), auditKey{}, rec)))

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		attrs := []slog.Attr{
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", recorder.bytes),
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.String("ip", clientIP(req)),
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			attrs = append(attrs, slog.String("request_id", reqID))
		}
		switch {
		case !rec.authenticated:
			attrs = append(attrs, slog.String("actor", "anonymous"))
		case rec.scope.CrossTenant:
			attrs = append(attrs, slog.String("actor", "operator"), slog.Int64("user_id", rec.scope.UserID))
		default:
			attrs = append(attrs, slog.String("actor", "user"), slog.Int64("user_id", rec.scope.UserID), slog.Int64("tenant_id", rec.scope.TenantID))
		}
		r.logger.LogAttrs(req.Context(), statusLevel(status), "http_request", attrs...)
	}
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacker not supported")
	}
	sr.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// clientIP prefers the first X-Forwarded-For hop.
func clientIP(req *http.Request) string {
	if first, _, _ := strings.Cut(req.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil || host == "" {
		if addr := strings.TrimSpace(req.RemoteAddr); addr != "" {
			return addr
		}
		return "unknown"
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// pathParts splits the path below prefix into non-empty segments.
func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

const rateLimiterSweepInterval = 5 * time.Minute

// RateRule caps requests per key within a fixed window.
type RateRule struct {
	Limit  int
	Window time.Duration
}

func (r RateRule) window() time.Duration {
	if r.Window <= 0 {
		return time.Minute
	}
	return r.Window
}

// RateDecision is the limiter's verdict for one request.
type RateDecision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// Remaining reports how many requests the window still admits under rule.
func (d RateDecision) Remaining(rule RateRule) int {
	return max(rule.Limit-d.Count, 0)
}

// RateLimiter counts requests per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, rule RateRule) RateDecision
	Close()
}

// memoryRateLimiter keeps fixed-window counters in process. Expired windows
// are evicted by a background sweep.
type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	now     func() time.Time
	done    chan struct{}
	closed  sync.Once
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

// NewMemoryRateLimiter returns a process-local limiter for single-replica runs.
func NewMemoryRateLimiter() RateLimiter {
	rl := &memoryRateLimiter{
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.evictLoop(rateLimiterSweepInterval)
	return rl
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, rule RateRule) RateDecision {
	if rule.Limit <= 0 {
		return RateDecision{Allowed: true}
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(rule.window())}
		rl.windows[key] = w
	}
	if w.count >= rule.Limit {
		return RateDecision{Count: w.count, ResetAt: w.resetAt}
	}
	w.count++
	return RateDecision{Allowed: true, Count: w.count, ResetAt: w.resetAt}
}

func (rl *memoryRateLimiter) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evict(rl.now())
		case <-rl.done:
			return
		}
	}
}

func (rl *memoryRateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.closed.Do(func() { close(rl.done) })
}

// limited applies rule per caller. Authenticated requests are keyed by
// tenant and user, anything else by client IP.
func (r *Router) limited(route string, rule RateRule, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if rule.Limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := rateLimitKeyScope(req)
		if key == "" {
			key = "ip:" + clientIP(req)
		}
		decision := r.limiter.Allow(req.Context(), key, rule)
		setRateHeaders(w.Header(), rule, decision)
		if !decision.Allowed {
			r.recordRateLimitHit(route, rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func setRateHeaders(h http.Header, rule RateRule, decision RateDecision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining(rule)))
	if !decision.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}

// rateLimitKeyScope buckets requests per tenant and user so one tenant cannot
// exhaust another's allowance.
func rateLimitKeyScope(req *http.Request) string {
	scope, ok := tenant.FromContext(req.Context())
	if !ok || scope.UserID <= 0 {
		return ""
	}
	user := strconv.FormatInt(scope.UserID, 10)
	if scope.CrossTenant {
		return "operator:" + user
	}
	return "tenant:" + strconv.FormatInt(scope.TenantID, 10) + ":user:" + user
}

// rateMetricKey keeps metric cardinality low by reporting only the key kind.
func rateMetricKey(key string) string {
	kind, _, found := strings.Cut(key, ":")
	if !found || kind == "" {
		return "unknown"
	}
	return kind
}

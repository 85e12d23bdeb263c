package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the key, starts its window on first use and
// returns the count with the window's remaining milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// redisRateLimiter shares fixed-window counters across API replicas.
type redisRateLimiter struct {
	client  redis.Scripter
	closer  func() error
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisRateLimiter connects to Redis and returns a limiter shared by every
// API replica.
func NewRedisRateLimiter(ctx context.Context, addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	rl := newRedisRateLimiter(client, logger)
	rl.closer = client.Close
	return rl, nil
}

func newRedisRateLimiter(client redis.Scripter, logger *slog.Logger) *redisRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisRateLimiter{
		client:  client,
		logger:  logger.With("component", "rate_limiter"),
		prefix:  "versionlifecycle:ratelimit:",
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}
}

func (rl *redisRateLimiter) Allow(ctx context.Context, key string, rule RateRule) RateDecision {
	if rule.Limit <= 0 {
		return RateDecision{Allowed: true}
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	window := rule.window()
	res, err := fixedWindowScript.Run(ctx, rl.client, []string{rl.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		// Fail open.
		rl.logger.Error("redis rate limiter error", "key", key, "error", err)
		return RateDecision{Allowed: true}
	}
	remaining := time.Duration(res[1]) * time.Millisecond
	if remaining <= 0 {
		remaining = window
	}
	count := int(res[0])
	return RateDecision{
		Allowed: count <= rule.Limit,
		Count:   count,
		ResetAt: rl.now().Add(remaining),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.closer != nil {
		_ = rl.closer()
	}
}

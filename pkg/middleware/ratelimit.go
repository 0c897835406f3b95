package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Rate limit key strategies.
const (
	StrategyIP     = "ip"     // client IP, see ClientIP
	StrategyUser   = "user"   // authenticated user ID, falling back to the client IP
	StrategyCustom = "custom" // RateLimitConfig.KeyExtractor
)

// RateLimitConfig defines configuration for rate limiting
type RateLimitConfig struct {
	// Unique identifier for this rate limit bucket.
	// Rules sharing the same BucketName share the same counters.
	BucketName string

	// Maximum number of requests allowed in the time window
	Limit int

	// Time window for the rate limit (e.g., 1 minute, 1 hour)
	Window time.Duration

	// Strategy for identifying clients: StrategyIP (default), StrategyUser or StrategyCustom
	Strategy string

	// Custom key extractor function (used when Strategy is "custom")
	KeyExtractor func(*http.Request) (string, error)

	// Response to send when rate limit is exceeded.
	// If nil, the chain ends with a 429 error.
	ExceededHandler http.Handler
}

// RateLimiter defines the interface for rate limiting algorithms
type RateLimiter interface {
	// Allow counts one request for key. It reports whether the request is allowed,
	// the number of remaining requests and the time until the window resets.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, reset time.Duration, err error)
}

// maxIdleBuckets bounds the in-memory bucket map; expired buckets are swept beyond it.
const maxIdleBuckets = 10000

// MemoryRateLimiter implements RateLimiter with in-memory fixed window counters.
// Limits are per process; use RedisRateLimiter to share them between instances.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	start  time.Time
	window time.Duration
	count  int
}

// NewMemoryRateLimiter creates an in-memory rate limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow implements RateLimiter. It never fails.
func (m *MemoryRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		if len(m.buckets) >= maxIdleBuckets {
			m.sweep(now)
		}
		b = &bucket{start: now, window: window}
		m.buckets[key] = b
	} else if now.Sub(b.start) >= b.window || b.window != window {
		b.start, b.window, b.count = now, window, 0
	}

	b.count++
	reset := b.window - now.Sub(b.start)
	if b.count > limit {
		return false, 0, reset, nil
	}
	return true, limit - b.count, reset, nil
}

// sweep drops buckets whose window has expired. m.mu must be held.
func (m *MemoryRateLimiter) sweep(now time.Time) {
	for key, b := range m.buckets {
		if now.Sub(b.start) >= b.window {
			delete(m.buckets, key)
		}
	}
}

// fixedWindowScript increments the counter of a window and starts its expiry on the first hit.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

// RedisRateLimiter implements RateLimiter with a fixed window counter in Redis,
// so several instances of a service share the same limits.
type RedisRateLimiter struct {
	client redis.Scripter
	prefix string
}

// NewRedisRateLimiter creates a rate limiter storing its counters under prefix.
func NewRedisRateLimiter(client redis.Scripter, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// Allow implements RateLimiter.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	if limit <= 0 {
		limit = 1
	}
	if window < time.Millisecond {
		window = time.Second
	}

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 2 {
		return false, 0, 0, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}

	count := int(res[0])
	reset := time.Duration(res[1]) * time.Millisecond
	if reset < 0 {
		reset = window
	}
	if count > limit {
		return false, 0, reset, nil
	}
	return true, limit - count, reset, nil
}

// rateLimitKey extracts the client key according to the configured strategy.
func rateLimitKey(r *http.Request, config *RateLimitConfig) (string, error) {
	switch config.Strategy {
	case StrategyUser:
		if id := GetUserID(r); id != "" {
			return id, nil
		}
	case StrategyCustom:
		if config.KeyExtractor != nil {
			return config.KeyExtractor(r)
		}
	}
	return requestIP(r), nil
}

// RateLimit enforces config with limiter. Limit headers are set on every response.
// A failing limiter is logged and the request is let through.
func RateLimit(config RateLimitConfig, limiter RateLimiter, logger *zap.Logger) *common.Descriptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewMemoryRateLimiter()
	}
	name := "rate_limit"
	if config.BucketName != "" {
		name += ":" + config.BucketName
	}

	return common.Func(name, func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		key, err := rateLimitKey(r, &config)
		if err != nil {
			return fmt.Errorf("extract rate limit key: %w", err)
		}

		allowed, remaining, reset, err := limiter.Allow(r.Context(), config.BucketName+":"+key, config.Limit, config.Window)
		if err != nil {
			logger.Error("Rate limiter failed",
				zap.Error(err),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			return next(w, r)
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))

		if allowed {
			return next(w, r)
		}

		retryAfter := int64(reset / time.Second)
		if reset%time.Second != 0 {
			retryAfter++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		logger.Warn("Rate limit exceeded",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("key", key),
			zap.Int("limit", config.Limit),
		)

		if config.ExceededHandler != nil {
			config.ExceededHandler.ServeHTTP(w, r)
			return nil
		}
		return common.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
	})
}

// Throttle paces requests to at most rps per second with Uber's leaky bucket.
// Requests over the rate wait for their slot instead of being rejected; burst sets
// how many requests may pass at once after an idle period.
// A request whose context ends while it waits moves on at once and the chain
// abandons it; its slot is still consumed.
// A non-positive rps disables throttling.
func Throttle(rps, burst int) *common.Descriptor {
	if rps <= 0 {
		return common.Func("throttle", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
			return next(w, r)
		})
	}
	opts := []ratelimit.Option{ratelimit.WithoutSlack}
	if burst > 0 {
		opts = []ratelimit.Option{ratelimit.WithSlack(burst)}
	}
	limiter := ratelimit.New(rps, opts...)
	return common.Func("throttle", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		slot := make(chan struct{})
		go func() {
			limiter.Take()
			close(slot)
		}()
		select {
		case <-slot:
		case <-r.Context().Done():
		}
		return next(w, r)
	})
}

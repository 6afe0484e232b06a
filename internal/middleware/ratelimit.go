package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// RateLimit creates a fixed-window rate limiting middleware backed by Redis
// counters so the limit holds across processes. When Redis is unreachable the
// limiter degrades to an in-process token bucket rather than waving requests
// through; the endpoints behind it are authentication endpoints, which must
// stay limited even during a Redis outage.
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	fallback := newLocalLimiter(cfg.Limit, cfg.Window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.cfg.Security.RateLimiting.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := fmt.Sprintf("gatewarden:ratelimit:%s", cfg.KeyFn(r))

			count, err := m.rdb.Incr(ctx, key)
			if err != nil {
				m.log.Error().Err(err).Msg("rate limit counter unavailable, using local limiter")
				if !fallback.allow(cfg.KeyFn(r)) {
					tooManyRequests(w, cfg.Window)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Set expiry on first request in the window
			if count == 1 {
				if err := m.rdb.Expire(ctx, key, cfg.Window); err != nil {
					m.log.Error().Err(err).Msg("failed to set rate limit window expiry")
				}
			}

			ttl, _ := m.rdb.Client.TTL(ctx, key).Result()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, cfg.Limit-int(count))))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

			if int(count) > cfg.Limit {
				tooManyRequests(w, ttl)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	http.Error(w, `{"error":{"code":"RATE_LIMITED","message":"Too many requests. Please try again later."}}`, http.StatusTooManyRequests)
}

// IPKey returns the client IP address as the rate limit key
func IPKey(r *http.Request) string {
	return clientIP(r)
}

// localLimiter keeps per-key token buckets for the Redis-down path. Buckets
// are pruned once the map grows past a bound so a scan of spoofed addresses
// cannot grow it without limit.
type localLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

const localLimiterMaxKeys = 10000

func newLocalLimiter(limit int, window time.Duration) *localLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &localLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
	}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= localLimiterMaxKeys {
			l.buckets = make(map[string]*rate.Limiter)
		}
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b.Allow()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

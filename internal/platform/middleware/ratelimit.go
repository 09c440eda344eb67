package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig tunes the per-caller token buckets.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig applies when the environment sets no explicit rate.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// ipBucket is a token bucket refilled continuously at the configured rate.
type ipBucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	cfg    RateLimitConfig
}

func newIPBucket(cfg RateLimitConfig) *ipBucket {
	return &ipBucket{
		tokens: float64(cfg.BurstSize),
		last:   time.Now(),
		cfg:    cfg,
	}
}

// take consumes one token. When the bucket is empty it reports how many
// whole seconds until a token becomes available, at least 1.
func (b *ipBucket) take() (ok bool, retryAfter int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.cfg.RequestsPerSecond
	if max := float64(b.cfg.BurstSize); b.tokens > max {
		b.tokens = max
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.cfg.RequestsPerSecond <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/b.cfg.RequestsPerSecond) + 1
}

// bucketTable lazily creates one bucket per caller IP.
type bucketTable struct {
	mu      sync.RWMutex
	buckets map[string]*ipBucket
	cfg     RateLimitConfig
}

func newBucketTable(cfg RateLimitConfig) *bucketTable {
	return &bucketTable{
		buckets: make(map[string]*ipBucket),
		cfg:     cfg,
	}
}

func (t *bucketTable) lookup(ip string) *ipBucket {
	t.mu.RLock()
	b, ok := t.buckets[ip]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.buckets[ip]; ok {
		return b
	}
	b = newIPBucket(t.cfg)
	t.buckets[ip] = b
	return b
}

// RateLimit throttles requests with one token bucket per caller IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	table := newBucketTable(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			ok, retryAfter := table.lookup(c.RealIP()).take()
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

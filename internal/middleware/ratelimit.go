package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one rate-limit check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request under the given key may proceed.
// Implementations must be safe for concurrent use. A failed backend should
// fail open: returning an error lets the request through.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimitConfig holds the token-bucket parameters shared by both limiter
// implementations.
type RateLimitConfig struct {
	// RequestsPerMinute is the bucket refill rate
	RequestsPerMinute int
	// BurstSize is the bucket capacity
	BurstSize int
}

// DefaultRateLimitConfig returns the defaults for authenticated API usage
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
	}
}

// WebhookRateLimitConfig returns looser limits for the provider webhook
// endpoint, which legitimately bursts when an operator bulk-edits stores.
func WebhookRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 600,
		BurstSize:         100,
	}
}

// ---------------------------------------------------------------------------
// In-process limiter
// ---------------------------------------------------------------------------

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter is a per-process token bucket keyed by client. It is the
// fallback when no Redis connection is configured; limits are then enforced
// per instance, not across the fleet.
type MemoryLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewMemoryLimiter creates an in-process limiter and starts its cleanup loop
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	l := &MemoryLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup evicts buckets idle long enough to have fully refilled
func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, b := range l.buckets {
				if now.Sub(b.lastUpdate) > 10*time.Minute {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *MemoryLimiter) Stop() {
	close(l.stopCh)
}

// Allow implements Limiter
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.config.BurstSize), lastUpdate: now}
		l.buckets[key] = b
	} else {
		refill := now.Sub(b.lastUpdate).Seconds() * float64(l.config.RequestsPerMinute) / 60.0
		b.tokens = minf(float64(l.config.BurstSize), b.tokens+refill)
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Remaining: int(b.tokens)}, nil
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / (float64(l.config.RequestsPerMinute) / 60.0) * float64(time.Second))
	return Decision{Allowed: false, Remaining: 0, RetryAfter: wait}, nil
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// ---------------------------------------------------------------------------
// Redis-backed limiter
// ---------------------------------------------------------------------------

// RedisLimiter enforces limits across all instances through redis_rate's
// sliding-window GCRA script.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter creates a fleet-wide limiter on an existing Redis client
func NewRedisLimiter(client *redis.Client, config RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Period: time.Minute,
			Burst:  config.BurstSize,
		},
	}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, key, l.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitMiddleware enforces the limiter per client key and sets the usual
// X-RateLimit headers. When the limiter backend errors the request proceeds;
// shedding all traffic because Redis is down would be worse than shedding
// none.
func RateLimitMiddleware(limiter Limiter, config RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey prefers the authenticated user over the client IP so NATed
// callers do not share a bucket once logged in.
func rateLimitKey(c *gin.Context) string {
	if userID, ok := c.Get(UserIDKey); ok {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// ---------------------------------------------------------------------------
// MemoryLimiter
// ---------------------------------------------------------------------------

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	limiter := NewMemoryLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3})
	defer limiter.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "client")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	d, err := limiter.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if d.Allowed {
		t.Fatal("request past burst allowed, want denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", d.RetryAfter)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1})
	defer limiter.Stop()

	ctx := context.Background()
	if d, _ := limiter.Allow(ctx, "a"); !d.Allowed {
		t.Fatal("first request for key a denied")
	}
	if d, _ := limiter.Allow(ctx, "a"); d.Allowed {
		t.Fatal("second request for key a allowed, want denied")
	}
	if d, _ := limiter.Allow(ctx, "b"); !d.Allowed {
		t.Fatal("first request for key b denied")
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type scriptedLimiter struct {
	decision Decision
	err      error
	lastKey  string
}

func (l *scriptedLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.lastKey = key
	return l.decision, l.err
}

func newLimitedRouter(limiter Limiter) *gin.Engine {
	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, DefaultRateLimitConfig()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestRateLimit_Allowed(t *testing.T) {
	limiter := &scriptedLimiter{decision: Decision{Allowed: true, Remaining: 41}}
	router := newLimitedRouter(limiter)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "41" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "41")
	}
}

func TestRateLimit_Denied(t *testing.T) {
	limiter := &scriptedLimiter{decision: Decision{Allowed: false}}
	router := newLimitedRouter(limiter)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimit_BackendErrorFailsOpen(t *testing.T) {
	limiter := &scriptedLimiter{err: errors.New("redis down")}
	router := newLimitedRouter(limiter)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimit_KeyPrefersUser(t *testing.T) {
	limiter := &scriptedLimiter{decision: Decision{Allowed: true}}

	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set(UserIDKey, "user-9") })
	router.Use(RateLimitMiddleware(limiter, DefaultRateLimitConfig()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if limiter.lastKey != "user:user-9" {
		t.Errorf("limiter key = %q, want %q", limiter.lastKey, "user:user-9")
	}
}

func TestRateLimit_KeyFallsBackToIP(t *testing.T) {
	limiter := &scriptedLimiter{decision: Decision{Allowed: true}}
	router := newLimitedRouter(limiter)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if limiter.lastKey != "ip:203.0.113.9" {
		t.Errorf("limiter key = %q, want %q", limiter.lastKey, "ip:203.0.113.9")
	}
}

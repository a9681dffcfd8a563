package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := New(cfg)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterAllow(t *testing.T) {
	limiter, now := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 5})
	defer limiter.Stop()

	key := "test-ip"

	// Should allow burst size requests immediately
	for i := 0; i < 5; i++ {
		if ok, _ := limiter.Allow(key); !ok {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}

	ok, wait := limiter.Allow(key)
	if ok {
		t.Error("Request after burst should be denied")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("wait = %v, want (0, 1s]", wait)
	}

	// 1 second = 1 token at 60/min
	*now = now.Add(time.Second)
	if ok, _ := limiter.Allow(key); !ok {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter, _ := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	if ok, _ := limiter.Allow("client-a"); ok {
		t.Error("Client A should be rate limited")
	}
	if ok, _ := limiter.Allow("client-b"); !ok {
		t.Error("Client B should not be rate limited")
	}
}

func TestLimiterBurstCap(t *testing.T) {
	limiter, now := newTestLimiter(Config{RequestsPerMinute: 600, BurstSize: 2})
	defer limiter.Stop()

	limiter.Allow("k")
	*now = now.Add(time.Hour) // refill is capped at the burst size

	allowed := 0
	for i := 0; i < 5; i++ {
		if ok, _ := limiter.Allow("k"); ok {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed = %d, want 2", allowed)
	}
}

func TestLimiterEvictIdle(t *testing.T) {
	limiter, now := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 10})
	defer limiter.Stop()

	limiter.Allow("idle")
	*now = now.Add(11 * time.Second)
	limiter.Allow("active")
	limiter.evictIdle()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.clients["idle"]; ok {
		t.Error("idle bucket should have been evicted")
	}
	if _, ok := limiter.clients["active"]; !ok {
		t.Error("active bucket should be kept")
	}
}

func TestMiddleware_RetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(Config{RequestsPerMinute: 30, BurstSize: 1})
	defer limiter.Stop()

	r := gin.New()
	r.Use(limiter.Middleware(nil))
	r.GET("/v1/stats", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: status %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/stats", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	limiter := New(DefaultConfig())
	limiter.Stop()
	limiter.Stop()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 60 {
		t.Errorf("Expected 60 requests/min, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("Expected burst size 10, got %d", cfg.BurstSize)
	}
}

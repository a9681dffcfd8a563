// Package ratelimit provides token-bucket rate limiting for the swapgate API.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/swapgate/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per key
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to drop idle keys
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60, // 1 req/sec average
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// KeyFunc picks the bucket for a request.
type KeyFunc func(c *gin.Context) string

// ByClientIP buckets requests by client IP.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// Limiter tracks token buckets by key.
type Limiter struct {
	cfg      Config
	now      func() time.Time
	mu       sync.Mutex
	clients  map[string]*bucket
	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a limiter and starts its cleanup loop.
func New(cfg Config) *Limiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

// evictIdle drops buckets that have refilled completely; they are
// indistinguishable from new ones.
func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	refill := time.Duration(float64(l.cfg.BurstSize) / l.ratePerSecond() * float64(time.Second))
	cutoff := l.now().Add(-refill)
	for key, b := range l.clients {
		if b.lastCheck.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) ratePerSecond() float64 {
	return math.Max(float64(l.cfg.RequestsPerMinute)/60.0, 1e-9)
}

// Allow reports whether key may proceed, and if not, how long until a
// token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.clients[key]
	if !exists {
		l.clients[key] = &bucket{tokens: float64(l.cfg.BurstSize - 1), lastCheck: now}
		return true, 0
	}

	rate := l.ratePerSecond()
	b.tokens = math.Min(b.tokens+now.Sub(b.lastCheck).Seconds()*rate, float64(l.cfg.BurstSize))
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
	return false, wait
}

// Middleware rate limits requests bucketed by key.
func (l *Limiter) Middleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	return func(c *gin.Context) {
		ok, wait := l.Allow(key(c))
		if !ok {
			metrics.RateLimitedTotal.Inc()
			retry := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}

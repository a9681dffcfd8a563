// Package metrics provides the process-wide Prometheus instrumentation for
// swapgate: HTTP traffic, connection pools and runtime gauges. Domain
// counters live next to the code that increments them.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swapgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RateLimitedTotal counts requests refused by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swapgate",
		Name:      "rate_limited_total",
		Help:      "Total requests refused by the rate limiter.",
	})

	// SanctionsListSize tracks the addresses in the local sanctions list.
	SanctionsListSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapgate", Name: "sanctions_list_size",
		Help: "Number of addresses in the local sanctions list.",
	})

	// VaultInventory tracks unsold platform tokens in the settlement vault.
	VaultInventory = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapgate", Name: "vault_token_inventory",
		Help: "Platform tokens available to the settlement vault.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})

	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapgate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})

	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapgate", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitedTotal,
		SanctionsListSize,
		VaultInventory,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitCount,
		GoroutineCount,
	)
}

// StartStatsCollector periodically samples sql.DBStats (db may be nil) and
// the goroutine count, plus any extra samplers. Call in a goroutine; exits
// when ctx is done.
func StartStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration, samplers ...func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample(db, samplers)
		}
	}
}

func sample(db *sql.DB, samplers []func()) {
	if db != nil {
		stats := db.Stats()
		DBOpenConnections.Set(float64(stats.OpenConnections))
		DBInUseConnections.Set(float64(stats.InUse))
		DBWaitCount.Set(float64(stats.WaitCount))
	}
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
	for _, fn := range samplers {
		fn()
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not the raw path (nonces would explode cardinality)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Package security provides HTTP hardening for the swapgate API: response
// headers, CORS, admin auth and outbound endpoint checks.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiHeaders is the fixed response header set. The API only serves JSON,
// so nothing may frame, embed or cache it.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
}

// HeadersMiddleware adds security headers to all responses
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range apiHeaders {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions,
	}, ", ")
	corsHeaders = strings.Join([]string{"Content-Type", "X-Request-ID", AdminHeader}, ", ")
	// Browser clients read these: the request id for support and
	// Retry-After to back off from the rate limiter.
	corsExposed = strings.Join([]string{"X-Request-ID", "Retry-After"}, ", ")
)

// CORSMiddleware handles CORS for API endpoints. An empty list or "*" allows
// any origin without credentials; explicit origins also get credentials.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	_, wildcard := allowed["*"]
	anyOrigin := wildcard || len(allowed) == 0

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		_, listed := allowed[origin]

		if origin != "" && (anyOrigin || listed) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Expose-Headers", corsExposed)
			h.Set("Access-Control-Max-Age", "86400")
			if !anyOrigin {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

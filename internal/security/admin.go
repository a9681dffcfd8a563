package security

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminHeader carries the admin secret.
const AdminHeader = "X-Admin-Secret"

// RequireAdmin guards admin routes with a shared secret. With an empty
// secret every admin request is refused.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is disabled (ADMIN_SECRET not set)",
			})
			return
		}
		got := c.GetHeader(AdminHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid " + AdminHeader + " header required",
			})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"gamecore-backend/pkg/errutil"
)

const (
	// TenantHeader identifies the calling tenant on every /v1 request.
	TenantHeader = "x-tenant-id"

	tenantContextKey = "tenant_id"
)

// Tenant extracts the tenant id header into the request context and rejects
// requests without one.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			_ = c.Error(errutil.BadRequest("Missing tenantId header", nil))
			c.Abort()
			return
		}

		c.Set(tenantContextKey, tenantID)
		c.Next()
	}
}

// TenantID returns the tenant bound to the request, or "" when unset.
func TenantID(c *gin.Context) string {
	return c.GetString(tenantContextKey)
}

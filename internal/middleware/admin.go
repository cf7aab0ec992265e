package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/response"
)

// AdminKeyHeader carries the operator API key.
const AdminKeyHeader = "X-Admin-Key"

// AdminKey guards operator endpoints with a shared key. An empty key disables
// the endpoints entirely.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "admin endpoints are disabled"))
			c.Abort()
			return
		}
		supplied := c.GetHeader(AdminKeyHeader)
		if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(key)) != 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid admin key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

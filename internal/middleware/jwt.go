package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/response"
)

// ContextSessionKey is the gin context key storing claim session claims.
const ContextSessionKey = "claimSession"

type sessionValidator interface {
	ValidateToken(token string) (*models.ClaimSessionClaims, error)
}

// ClaimSession protects the resolve and confirm steps by requiring the token
// issued at login.
func ClaimSession(sessions sessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing claim session"))
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := sessions.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, claims)
		c.Next()
	}
}

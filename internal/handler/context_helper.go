package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memo-registry-api/internal/middleware"
	"github.com/noah-isme/memo-registry-api/internal/models"
)

func sessionFromContext(c *gin.Context) *models.ClaimSessionClaims {
	value, exists := c.Get(middleware.ContextSessionKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.ClaimSessionClaims)
	if !ok {
		return nil
	}
	return claims
}

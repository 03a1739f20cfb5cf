package middleware

import (
	"errors"
	"net/http"
	"strings"

	"sfulink/internal/core/services"

	"github.com/gin-gonic/gin"
)

// Authorizer validates a bearer token for a scope
type Authorizer interface {
	Authorize(token, scope string) (*services.Claims, error)
}

// AuthMiddleware requires a bearer token carrying scope
func AuthMiddleware(auth Authorizer, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := auth.Authorize(parts[1], scope)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, services.ErrUnauthorized) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("scope", claims.Scope)
		c.Next()
	}
}

package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/caremesh/telecare/internal/token"
)

const sessionClaimsKey = "session_claims"

// SessionAuthMiddleware validates the session access token from the
// Authorization header and stores its claims in the request context.
func SessionAuthMiddleware(tokens *token.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		claims, err := tokens.Validate(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(sessionClaimsKey, claims)
		c.Next()
	}
}

// WebSocketAuthMiddleware authenticates WebSocket subscriptions. Browsers
// cannot set headers on upgrade requests, so the token travels as a query
// parameter. Must run BEFORE the upgrade.
func WebSocketAuthMiddleware(tokens *token.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		claims, err := tokens.Validate(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(sessionClaimsKey, claims)
		c.Next()
	}
}

// GetSessionClaims retrieves the authenticated claims set by the
// middleware.
func GetSessionClaims(c *gin.Context) (*token.SessionClaims, error) {
	val, exists := c.Get(sessionClaimsKey)
	if !exists {
		return nil, errors.New("session claims not found in context")
	}

	claims, ok := val.(*token.SessionClaims)
	if !ok {
		return nil, errors.New("invalid session claims type in context")
	}
	return claims, nil
}

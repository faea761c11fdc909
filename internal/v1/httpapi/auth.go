package httpapi

import (
	"net/http"
	"strings"

	"github.com/artifactor-hq/collab-core/internal/v1/auth"
	"github.com/gin-gonic/gin"
)

// contextUserIDKey is the gin context key the auth middleware stores the
// authenticated subject under.
const contextUserIDKey = "httpapi.user_id"

// TokenValidator authenticates a bearer token, matching collab.TokenValidator
// so the same *auth.Validator (or *auth.MockValidator in dev mode) wires
// both the WebSocket upgrade path and this HTTP surface.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// RequireAuth validates the request's bearer token and stores the
// authenticated user id in the gin context for downstream handlers.
func RequireAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing bearer token"}})
			return
		}

		claims, err := validator.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid token"}})
			return
		}

		c.Set(contextUserIDKey, claims.Subject)
		c.Next()
	}
}

// userID returns the authenticated subject set by RequireAuth.
func userID(c *gin.Context) string {
	v, _ := c.Get(contextUserIDKey)
	s, _ := v.(string)
	return s
}

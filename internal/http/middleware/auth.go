// README: Firebase bearer-token auth middleware for the dashboard API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"drillflow/internal/infra"
)

const (
	callerUIDKey  = "caller_uid"
	callerRoleKey = "caller_role"
)

// Auth rejects requests without a valid "Authorization: Bearer <id token>"
// and stores the caller's uid and role claim on the context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "code": "UNAUTHORIZED"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "UNAUTHORIZED"})
			return
		}
		c.Set(callerUIDKey, token.UID)
		c.Set(callerRoleKey, token.Role)
		c.Next()
	}
}

// CallerUID returns the authenticated uid, or "" outside Auth.
func CallerUID(c *gin.Context) string {
	return c.GetString(callerUIDKey)
}

// CallerRole returns the role claim; empty when the token has none.
func CallerRole(c *gin.Context) string {
	return c.GetString(callerRoleKey)
}

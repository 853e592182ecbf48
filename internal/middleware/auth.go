// Package middleware provides the Gin HTTP middleware of the marketplace API.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Auth → Handler
//
// Security headers run first so they appear on every response including
// errors. Rate limiting runs before auth to shed brute-force traffic before
// any signature verification. Auth populates the user identity that handlers
// read for ownership checks.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shopconnect/shopconnect/internal/auth"
)

// Context keys populated by AuthMiddleware
const (
	// UserIDKey holds the authenticated user's id as a string
	UserIDKey = "user_id"
	// UserEmailKey holds the authenticated user's email
	UserEmailKey = "user_email"
	// UserRoleKey holds the authenticated user's role
	UserRoleKey = "user_role"
)

// AuthMiddleware validates the Authorization bearer token and stores the
// caller's identity in the gin context. Requests without a valid token are
// rejected with 401; handlers never see them.
func AuthMiddleware(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserEmailKey, claims.Email)
		c.Set(UserRoleKey, claims.Role)

		c.Next()
	}
}

// RequireRole aborts with 403 unless AuthMiddleware stored the given role.
// Mount after AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := c.Get(UserRoleKey)
		if !ok || val != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/staryskies/explo/internal/crypto"
)

// AuthMiddleware validates bearer tokens and stores the caller identity on
// the request context.
func AuthMiddleware(jwtManager *crypto.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := jwtManager.VerifyToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("userID", claims.Subject)
		c.Set("displayName", claims.DisplayName)

		c.Next()
	}
}

// GetUserID extracts the authenticated account id from the gin context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		return "", false
	}
	return userID.(string), true
}

// GetDisplayName extracts the authenticated display name from the gin context.
func GetDisplayName(c *gin.Context) (string, bool) {
	name, exists := c.Get("displayName")
	if !exists {
		return "", false
	}
	return name.(string), true
}

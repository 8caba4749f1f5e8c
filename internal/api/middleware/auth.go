package middleware

import (
	"net/http"
	"strings"

	"github.com/bhandras/delight/relay/internal/crypto"
	"github.com/gin-gonic/gin"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*crypto.TokenClaims, error)
}

const principalKey = "principalID"

// AuthMiddleware creates a middleware that requires a valid bearer token and
// stores its subject as the caller principal.
func AuthMiddleware(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		// Extract token (format: "Bearer <token>")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := tokens.VerifyToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(principalKey, claims.Subject)
		c.Set("claims", claims)

		c.Next()
	}
}

// GetPrincipalID extracts the authenticated caller principal from the Gin
// context.
func GetPrincipalID(c *gin.Context) (string, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

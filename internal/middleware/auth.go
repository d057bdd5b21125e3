package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"comms-service/internal/auth"
)

// AuthMiddleware validates the Authorization header and binds the verified
// identity to the request context.
func AuthMiddleware(verifier *auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := verifier.Verify(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", identity.UserID)
		if identity.OrgID != nil {
			c.Set("orgID", *identity.OrgID)
		}
		c.Set("displayName", identity.DisplayName)
		c.Next()
	}
}

package middleware

import (
	"strings"

	"ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/jwt"
	"ai-companion-demo/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// BearerToken extracts a token from the Authorization header, falling back to
// the access_token query parameter browsers use for socket upgrades.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if header != "" {
		return strings.TrimSpace(header)
	}
	return c.Query("access_token")
}

// Auth verifies bearer tokens when a verifier is configured. A nil verifier
// lets every request through so local development needs no tokens.
func Auth(verifier *jwt.Verifier, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}

		token := BearerToken(c)
		if token == "" {
			_ = c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authorization header is required"))
			c.Abort()
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.Warn("Invalid bearer token", "error", err.Error(), "path", c.Request.URL.Path)
			_ = c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("userId", claims.UserID())
		c.Next()
	}
}

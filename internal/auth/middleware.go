package auth

import (
	"net/http"
	"strings"

	"solar-telemetry/internal/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ownerKey = "owner_id"

	// LocalOwner is the owner used when no JWT secret is configured.
	LocalOwner = "local"
)

// Middleware validates the bearer token and stores the owner id on the gin
// context. A nil manager runs in single-owner mode.
func Middleware(m *JWTManager, logger *zap.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)

	return func(c *gin.Context) {
		if m == nil {
			c.Set(ownerKey, LocalOwner)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, "authorization header required")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, "invalid authorization format")
			return
		}

		claims, err := m.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			logger.Warn("Invalid token", zap.Error(err))
			abort(c, "invalid or expired token")
			return
		}

		c.Set(ownerKey, claims.Owner())
		c.Next()
	}
}

func abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"kind": "unauthorized", "message": message},
	})
}

// Owner returns the authenticated owner id, or "" outside the middleware.
func Owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}

// internal/middleware/auth_middleware.go
package middleware

import (
	"strings"

	"github.com/D-7J/beast-downloader-bot/internal/pkg/auth"
	"github.com/D-7J/beast-downloader-bot/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthMiddleware struct {
	manager *auth.Manager
	logger  *zap.Logger
}

func NewAuthMiddleware(manager *auth.Manager, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{manager: manager, logger: logger}
}

// Auth verifies the service bearer token and stores the caller name in the
// context.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Unauthorized(c, "missing bearer token")
			return
		}

		service, err := m.manager.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			m.logger.Warn("rejected service token", zap.Error(err))
			response.Unauthorized(c, "invalid token")
			return
		}

		c.Set("service", service)
		c.Next()
	}
}

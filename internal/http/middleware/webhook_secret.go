package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/fulfillment-backend/internal/http/response"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

const headerWebhookSecret = "X-Webhook-Secret"

type WebhookSecretMiddleware struct {
	log    *logger.Logger
	secret []byte
}

// NewWebhookSecretMiddleware guards the intake endpoints. An empty secret disables the check;
// config validation only allows that with the sqlite driver.
func NewWebhookSecretMiddleware(log *logger.Logger, secret string) *WebhookSecretMiddleware {
	return &WebhookSecretMiddleware{
		log:    log.With("Middleware", "WebhookSecretMiddleware"),
		secret: []byte(strings.TrimSpace(secret)),
	}
}

func (m *WebhookSecretMiddleware) RequireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.secret) == 0 {
			c.Next()
			return
		}
		got := extractSecret(c)
		if got == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing webhook secret"))
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), m.secret) != 1 {
			m.log.Warn("Rejected webhook call", "path", c.FullPath(), "remote", c.ClientIP())
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid webhook secret"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractSecret(c *gin.Context) string {
	if s := strings.TrimSpace(c.GetHeader(headerWebhookSecret)); s != "" {
		return s
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookSecretHeader - заголовок, в котором платформа вебхуков передает общий секрет.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookAuth создает middleware проверки общего секрета вебхука.
// Пустой секрет отключает проверку (локальная разработка).
func WebhookAuth(secret string, logger *zap.Logger) gin.HandlerFunc {
	if secret == "" {
		logger.Warn("WEBHOOK_SECRET не задан, проверка подписи вебхуков отключена")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		log := logger.With(zap.String("path", c.Request.URL.Path))

		provided := c.GetHeader(WebhookSecretHeader)
		if provided == "" {
			log.Warn("Заголовок X-Webhook-Secret отсутствует")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: missing webhook secret"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			log.Warn("Неверный секрет вебхука", zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: invalid webhook secret"})
			return
		}

		c.Next()
	}
}

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/pkg/metrics"
	"example.com/payment-recon/services/recon/internal/guard"
)

// IdentityFunc извлекает идентичность клиента для подсчёта лимита.
// Возврат пустой строки отключает лимит для запроса.
type IdentityFunc func(c *gin.Context) string

// IdentityByIP считает лимит по IP клиента.
func IdentityByIP(c *gin.Context) string {
	return c.ClientIP()
}

// IdentityByOperator считает лимит по ID аутентифицированного оператора.
// Должен стоять после AuthMiddleware; до аутентификации откатывается на IP.
func IdentityByOperator(c *gin.Context) string {
	if id := c.GetString(CtxOperatorID); id != "" {
		return id
	}
	return c.ClientIP()
}

// RateLimit ограничивает частоту операции по идентичности клиента
// через скользящее окно в Redis. При недоступности Redis запросы
// пропускаются (fail-open), заголовки X-RateLimit-* сообщают клиенту
// текущее состояние окна.
func RateLimit(limiter guard.RateLimiter, operation string, max int, window time.Duration, identity IdentityFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		id := identity(c)
		if id == "" {
			c.Next()
			return
		}

		res, err := limiter.Check(ctx, id, operation, max, window)
		if err != nil {
			// Лимитер сам реализует fail-open, сюда ошибка не доходит.
			// Страховка на случай смены реализации.
			logger.Ctx(ctx).Warn().Err(err).Str("operation", operation).Msg("Ошибка проверки лимита частоты")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", max))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))

		if !res.Allowed {
			metrics.RateLimitRejectionsTotal.WithLabelValues(operation).Inc()

			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}

			logger.Ctx(ctx).Warn().
				Str("operation", operation).
				Str("identity", id).
				Int("limit", max).
				Msg("Превышен лимит частоты запросов")

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", retryAfter),
			})
			return
		}

		c.Next()
	}
}

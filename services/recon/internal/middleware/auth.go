// Package middleware содержит HTTP middleware админского API Recon Service.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-recon/pkg/jwt"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/services/recon/internal/domain"
	"example.com/payment-recon/services/recon/internal/httputil"
)

// Ключи Gin context, устанавливаемые после аутентификации.
const (
	CtxOperatorID = "operator_id"
	CtxRole       = "role"
	CtxJTI        = "jti"
)

// TokenValidator — интерфейс для валидации токенов.
// Позволяет мокировать jwt.Manager в тестах.
type TokenValidator interface {
	ValidateWithBlacklist(ctx context.Context, tokenString string) (*jwt.Claims, error)
}

// AuthMiddleware — middleware для проверки JWT токенов операторов.
// Проверяет подпись, срок действия и blacklist отозванных токенов.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware создаёт middleware аутентификации операторов.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := httputil.ExtractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.validator.ValidateWithBlacklist(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("Токен не прошёл валидацию")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		// Сохраняем данные оператора в контекст Gin
		c.Set(CtxOperatorID, claims.OperatorID)
		c.Set(CtxRole, claims.Role)
		c.Set(CtxJTI, claims.ID)

		log.Debug().
			Str("operator_id", claims.OperatorID).
			Str("jti", claims.ID).
			Msg("Оператор аутентифицирован")

		c.Next()
	}
}

// RequireRole пропускает запрос только для операторов с указанной ролью.
// Используется после AuthMiddleware.Handle.
func RequireRole(role domain.OperatorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRole) != string(role) {
			logger.Ctx(c.Request.Context()).Warn().
				Str("operator_id", c.GetString(CtxOperatorID)).
				Str("required_role", string(role)).
				Msg("Недостаточно прав для операции")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Недостаточно прав",
			})
			return
		}
		c.Next()
	}
}

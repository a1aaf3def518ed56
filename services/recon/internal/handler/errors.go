// Package handler содержит HTTP обработчики Recon Service.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/services/recon/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleServiceError преобразует доменную ошибку в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
// ВАЖНО: err не должен быть nil — это баг в вызывающем коде.
func HandleServiceError(c *gin.Context, err error, method string) {
	if err == nil {
		logger.Error().Str("method", method).Msg("HandleServiceError вызван с nil ошибкой — баг в коде")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	log := logger.FromContext(c.Request.Context())

	// Маппинг доменных ошибок в HTTP статусы.
	var httpStatus int
	var errorCode string

	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrOperatorNotFound):
		httpStatus = http.StatusNotFound
		errorCode = "not_found"
	case errors.Is(err, domain.ErrEmptyReference),
		errors.Is(err, domain.ErrUnknownClaimedStatus),
		errors.Is(err, domain.ErrReasonRequired):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_argument"
	case errors.Is(err, domain.ErrOrderArchived),
		errors.Is(err, domain.ErrOrderNotPayable),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAmountMismatch):
		httpStatus = http.StatusConflict
		errorCode = "conflict"
	case errors.Is(err, domain.ErrOrderBusy):
		httpStatus = http.StatusConflict
		errorCode = "order_busy"
	case errors.Is(err, domain.ErrLockNotHeld):
		httpStatus = http.StatusConflict
		errorCode = "lock_not_held"
	case errors.Is(err, domain.ErrOperatorExists):
		httpStatus = http.StatusConflict
		errorCode = "already_exists"
	case errors.Is(err, domain.ErrInvalidCredentials):
		httpStatus = http.StatusUnauthorized
		errorCode = "invalid_credentials"
	case errors.Is(err, domain.ErrLoginLocked):
		httpStatus = http.StatusTooManyRequests
		errorCode = "login_locked"
	default:
		httpStatus = http.StatusInternalServerError
		errorCode = "internal_error"
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		// Детали инфраструктурных ошибок наружу не отдаём
		c.JSON(httpStatus, ErrorResponse{
			Error:   errorCode,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   errorCode,
		Message: err.Error(),
	})
}

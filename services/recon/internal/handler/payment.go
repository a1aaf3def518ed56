package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/payment-recon/pkg/config"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/pkg/metrics"
	"example.com/payment-recon/services/recon/internal/guard"
	"example.com/payment-recon/services/recon/internal/service"
)

// PaymentHandler — клиентская часть платёжного API: создание интентов
// и проверка статуса оплаты.
type PaymentHandler struct {
	payments service.PaymentService
	limiter  guard.RateLimiter // nil = без лимитов (тесты)
	limits   config.RateLimitConfig
}

// NewPaymentHandler создаёт обработчик платёжного API.
// Лимит интентов считается по email покупателя, поэтому проверяется
// здесь после разбора тела, а не в middleware по IP.
func NewPaymentHandler(payments service.PaymentService, limiter guard.RateLimiter, limits config.RateLimitConfig) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		limiter:  limiter,
		limits:   limits,
	}
}

// CreateIntentRequest — запрос на создание платёжного интента.
type CreateIntentRequest struct {
	OrderNumber string `json:"order_number" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
}

// CreateIntentResponse — созданный платёжный интент.
type CreateIntentResponse struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// CreateIntent создаёт попытку оплаты для заказа.
// POST /api/v1/payments
// Ключ идемпотентности передаётся в заголовке Idempotency-Key;
// повторный запрос с тем же ключом возвращает существующий интент.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на создание интента")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	if h.limiter != nil {
		identity := strings.ToLower(strings.TrimSpace(req.Email))
		res, err := h.limiter.Check(ctx, identity, "intent", h.limits.IntentMax, h.limits.IntentWindow)
		if err == nil && !res.Allowed {
			metrics.RateLimitRejectionsTotal.WithLabelValues("intent").Inc()

			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}

			log.Warn().Str("email", identity).Msg("Превышен лимит создания интентов")
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate_limit_exceeded",
				Message: fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", retryAfter),
			})
			return
		}
	}

	result, err := h.payments.CreateIntent(ctx, service.CreateIntentRequest{
		OrderNumber:    req.OrderNumber,
		Email:          req.Email,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		HandleServiceError(c, err, "CreateIntent")
		return
	}

	status := http.StatusCreated
	if result.AlreadyExists {
		status = http.StatusOK
	}

	log.Info().
		Str("order_number", req.OrderNumber).
		Str("reference", result.Reference).
		Bool("already_exists", result.AlreadyExists).
		Msg("Платёжный интент выдан")

	c.JSON(status, CreateIntentResponse{
		Reference: result.Reference,
		Amount:    result.Amount,
		Currency:  result.Currency,
	})
}

// StatusResponse — состояние оплаты по ссылке.
type StatusResponse struct {
	Reference      string `json:"reference"`
	OrderNumber    string `json:"order_number,omitempty"`
	PaymentStatus  string `json:"payment_status"`
	OrderStatus    string `json:"order_status"`
	Transaction    string `json:"transaction_status"`
	ProviderStatus string `json:"provider_status,omitempty"`
	Verified       bool   `json:"verified"`
}

// CheckStatus возвращает состояние оплаты, предварительно сверив
// финальный статус провайдера, если тот доступен.
// GET /api/v1/payments/:reference
func (h *PaymentHandler) CheckStatus(c *gin.Context) {
	ctx := c.Request.Context()

	ref := c.Param("reference")

	result, err := h.payments.CheckStatus(ctx, ref)
	if err != nil {
		HandleServiceError(c, err, "CheckStatus")
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Reference:      result.Reference,
		OrderNumber:    result.OrderNumber,
		PaymentStatus:  string(result.PaymentStatus),
		OrderStatus:    string(result.OrderStatus),
		Transaction:    string(result.Transaction),
		ProviderStatus: result.ProviderStatus,
		Verified:       result.Verified,
	})
}

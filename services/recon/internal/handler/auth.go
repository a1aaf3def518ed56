package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/services/recon/internal/domain"
	"example.com/payment-recon/services/recon/internal/httputil"
	"example.com/payment-recon/services/recon/internal/middleware"
	"example.com/payment-recon/services/recon/internal/service"
)

// AuthHandler — аутентификация операторов админского API.
type AuthHandler struct {
	auth service.AuthService
}

// NewAuthHandler создаёт обработчик аутентификации.
func NewAuthHandler(auth service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// LoginRequest — запрос на вход оператора.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse — выданная пара токенов.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Login аутентифицирует оператора.
// POST /admin/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на вход")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Поля email и password обязательны",
		})
		return
	}

	tokens, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		HandleServiceError(c, err, "Login")
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	})
}

// Logout отзывает текущий токен оператора.
// POST /admin/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()

	token := httputil.ExtractBearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Требуется токен",
		})
		return
	}

	if err := h.auth.Logout(ctx, token); err != nil {
		HandleServiceError(c, err, "Logout")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// CreateOperatorRequest — создание учётной записи оператора.
type CreateOperatorRequest struct {
	Name     string `json:"name" binding:"required,min=1"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=admin support"`
}

// CreateOperator создаёт нового оператора. Только для роли admin.
// POST /admin/v1/operators
func (h *AuthHandler) CreateOperator(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	actor := c.GetString(middleware.CtxOperatorID)

	var req CreateOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на создание оператора")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	operatorID, err := h.auth.CreateOperator(ctx, actor, req.Name, req.Email, req.Password, domain.OperatorRole(req.Role))
	if err != nil {
		HandleServiceError(c, err, "CreateOperator")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"operator_id": operatorID})
}

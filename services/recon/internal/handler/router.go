package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/payment-recon/pkg/config"
	"example.com/payment-recon/pkg/metrics"
	"example.com/payment-recon/services/recon/internal/domain"
	"example.com/payment-recon/services/recon/internal/guard"
	"example.com/payment-recon/services/recon/internal/middleware"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — конфигурация HTTP роутера recon-service.
type Router struct {
	engine         *gin.Engine
	webhook        *WebhookHandler
	payments       *PaymentHandler
	admin          *AdminHandler
	auth           *AuthHandler
	authMW         *middleware.AuthMiddleware
	limiter        guard.RateLimiter
	limits         config.RateLimitConfig
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Webhook        *WebhookHandler
	Payments       *PaymentHandler
	Admin          *AdminHandler
	Auth           *AuthHandler
	AuthMW         *middleware.AuthMiddleware
	Limiter        guard.RateLimiter // nil = без лимитов
	Limits         config.RateLimitConfig
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(gin.Recovery())

	// CORS — обработка cross-origin запросов
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	// Security headers
	engine.Use(middleware.SecurityHeaders())

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware("recon-service"))

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware("recon-service"))

	// trace_id / correlation_id + лог запросов
	engine.Use(middleware.RequestTracing())

	r := &Router{
		engine:         engine,
		webhook:        cfg.Webhook,
		payments:       cfg.Payments,
		admin:          cfg.Admin,
		auth:           cfg.Auth,
		authMW:         cfg.AuthMW,
		limiter:        cfg.Limiter,
		limits:         cfg.Limits,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	// Health endpoints (без rate limiting и auth)
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	// === Вебхуки провайдера (подпись вместо auth) ===
	if r.webhook != nil {
		r.engine.POST("/webhooks/payments", r.webhook.Handle)
	}

	// === Клиентский платёжный API ===
	if r.payments != nil {
		v1 := r.engine.Group("/api/v1")

		// Интенты считаются по email внутри обработчика,
		// проверка статуса — по IP здесь.
		v1.POST("/payments", r.payments.CreateIntent)

		statusGroup := v1.Group("/payments")
		if r.limiter != nil {
			statusGroup.Use(middleware.RateLimit(r.limiter, "poll", r.limits.PollMax, r.limits.PollWindow, middleware.IdentityByIP))
		}
		statusGroup.GET("/:reference", r.payments.CheckStatus)
	}

	// === Админский API (JWT) ===
	adminV1 := r.engine.Group("/admin/v1")

	if r.auth != nil {
		auth := adminV1.Group("/auth")
		auth.POST("/login", r.auth.Login)
		auth.POST("/logout", r.auth.Logout) // Требует токен, но не проверяет валидность
	}

	if r.admin != nil && r.authMW != nil {
		protected := adminV1.Group("")
		protected.Use(r.authMW.Handle())
		if r.limiter != nil {
			protected.Use(middleware.RateLimit(r.limiter, "admin", r.limits.AdminMax, r.limits.AdminWindow, middleware.IdentityByOperator))
		}

		orders := protected.Group("/orders")
		{
			orders.GET("/:id", r.admin.GetOrder)
			orders.POST("/:id/payment-status", middleware.RequireRole(domain.RoleAdmin), r.admin.OverridePaymentStatus)
			orders.POST("/:id/lock", middleware.RequireRole(domain.RoleAdmin), r.admin.LockOrder)
			orders.DELETE("/:id/lock", middleware.RequireRole(domain.RoleAdmin), r.admin.UnlockOrder)
		}

		txns := protected.Group("/transactions")
		{
			txns.GET("/orphaned", r.admin.ListOrphaned)
			txns.POST("/orphaned/:id/link", middleware.RequireRole(domain.RoleAdmin), r.admin.LinkOrphan)
		}

		if r.auth != nil {
			protected.POST("/operators", middleware.RequireRole(domain.RoleAdmin), r.auth.CreateOperator)
		}
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// healthCheck — проверка работоспособности сервиса (legacy).
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "recon-service",
	})
}

// livenessCheck — liveness probe для Kubernetes.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe для Kubernetes.
// Возвращает 200 OK если зависимости сервиса доступны.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Recon Service — сервис сверки платёжных транзакций.
// Принимает события платёжного шлюза (вебхук, опрос, админ) и применяет
// идемпотентные переходы платёжного состояния заказов под блокировкой
// строки. Уведомления уходят через transactional outbox в Kafka.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/payment-recon/pkg/config"
	dbpkg "example.com/payment-recon/pkg/db"
	"example.com/payment-recon/pkg/healthcheck"
	jwtpkg "example.com/payment-recon/pkg/jwt"
	"example.com/payment-recon/pkg/kafka"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/pkg/metrics"
	"example.com/payment-recon/pkg/outbox"
	"example.com/payment-recon/pkg/tracing"
	"example.com/payment-recon/services/recon/internal/guard"
	"example.com/payment-recon/services/recon/internal/handler"
	"example.com/payment-recon/services/recon/internal/middleware"
	"example.com/payment-recon/services/recon/internal/provider"
	"example.com/payment-recon/services/recon/internal/repository"
	"example.com/payment-recon/services/recon/internal/service"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "recon-service").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Recon Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "recon-service",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	rdb := dbpkg.ConnectRedis(cfg.Redis)
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	cancel()
	log.Info().Msg("Подключение к Redis установлено")

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, rdb) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"recon-service",
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === JWT ===

	jwtManager, err := jwtpkg.NewManager(jwtpkg.Config{
		PrivateKeyPath:  cfg.JWT.PrivateKeyPath,
		PublicKeyPath:   cfg.JWT.PublicKeyPath,
		Issuer:          cfg.JWT.Issuer,
		AccessTokenTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL: cfg.JWT.RefreshTokenTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации JWT")
	}
	jwtManager.SetBlacklist(jwtpkg.NewBlacklist(rdb))

	// === Слои приложения ===

	orderRepo := repository.NewOrderRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	operatorRepo := repository.NewOperatorRepository(db)
	txRunner := repository.NewTxRunner(db, "order")

	rateLimiter := guard.NewRateLimiter(rdb)
	advisoryLock := guard.NewAdvisoryLock(rdb)

	providerClient := provider.NewClient(cfg.Provider)

	reconService := service.NewReconService(txRunner, orderRepo, txnRepo, advisoryLock, cfg.Recon)
	paymentService := service.NewPaymentService(orderRepo, txnRepo, providerClient, reconService, cfg.Recon)
	adminService := service.NewAdminService(orderRepo, txnRepo, auditRepo, advisoryLock, reconService, cfg.Recon)
	authService := service.NewAuthService(
		operatorRepo,
		auditRepo,
		service.NewJWTManagerAdapter(jwtManager),
		service.NewLoginLimiter(rdb),
	)

	// Контекст для graceful shutdown фоновых воркеров
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup

	// === Kafka: транзакционный outbox ===

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}
		defer func() {
			if err := kafkaProducer.Close(); err != nil {
				log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
			}
		}()

		outboxRepo := outbox.NewOutboxRepository(db, "order")
		outboxWorker := outbox.NewOutboxWorker(outboxRepo, kafkaProducer, outbox.DefaultWorkerConfig(), "recon")
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Outbox Worker")
				}
			}()
			outboxWorker.Run(ctx)
		}()

		log.Info().Msg("Outbox Worker запущен")
	} else {
		log.Warn().Msg("Kafka не настроена — доставка уведомлений отключена")
	}

	// === Фоновый опрос провайдера ===

	poller := provider.NewStatusPoller(txnRepo, providerClient, reconService, provider.PollerConfig{
		Interval: cfg.Provider.PollInterval,
		Age:      cfg.Provider.PollAge,
		Batch:    cfg.Provider.PollBatch,
	})
	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Паника в Status Poller")
			}
		}()
		poller.Run(ctx)
	}()
	log.Info().
		Dur("interval", cfg.Provider.PollInterval).
		Dur("age", cfg.Provider.PollAge).
		Msg("Status Poller запущен")

	// === HTTP сервер ===

	authMW := middleware.NewAuthMiddleware(jwtManager)

	router := handler.NewRouter(handler.RouterConfig{
		Webhook:        handler.NewWebhookHandler(reconService, webhookEventRepo, rdb, cfg.Provider.Name, cfg.Provider.WebhookSecret),
		Payments:       handler.NewPaymentHandler(paymentService, rateLimiter, cfg.RateLimit),
		Admin:          handler.NewAdminHandler(adminService),
		Auth:           handler.NewAuthHandler(authService),
		AuthMW:         authMW,
		Limiter:        rateLimiter,
		Limits:         cfg.RateLimit,
		ReadinessCheck: handler.ReadinessChecker(readinessCheck),
		Debug:          cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr()).Msg("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// === Graceful Shutdown ===

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка при остановке HTTP сервера")
	}

	// Останавливаем фоновые воркеры
	cancel()
	workersWg.Wait()

	// Закрываем подключение к MySQL
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Recon Service остановлен")
}

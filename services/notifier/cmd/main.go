// Notifier Service — потребитель событий сверки.
// Читает recon.order-events из Kafka и рассылает уведомления покупателям.
// Отравленные сообщения уходят в dlq.recon, битый JSON пропускается.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"example.com/payment-recon/pkg/config"
	"example.com/payment-recon/pkg/kafka"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/pkg/metrics"
	"example.com/payment-recon/pkg/tracing"
	"example.com/payment-recon/services/notifier/internal/dispatcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "notifier-service").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Strs("brokers", cfg.Kafka.Brokers).
		Msg("Запуск Notifier Service")

	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal().Msg("Kafka не настроена — notifier-service без Kafka бесполезен")
	}

	// === Observability ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "notifier-service",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), "notifier-service")
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Kafka ===

	if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics()); err != nil {
		log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
	}

	// Producer нужен только для DLQ
	dlqProducer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}

	consumer, err := kafka.NewConsumer(
		kafka.Config{Brokers: cfg.Kafka.Brokers},
		kafka.TopicOrderEvents,
		"notifier-service-consumer",
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
	}
	consumer.SetDLQProducer(dlqProducer)

	d := dispatcher.New(consumer, dispatcher.LogSender{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup
	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Паника в диспетчере уведомлений")
			}
		}()
		log.Info().Msg("Диспетчер уведомлений запущен")
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Ошибка диспетчера уведомлений")
		}
	}()

	// === Graceful Shutdown ===

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	cancel()
	workersWg.Wait()

	if err := d.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия consumer")
	}
	if err := dlqProducer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

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

	log.Info().Msg("Notifier Service остановлен")
}

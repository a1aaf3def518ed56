package provider

import (
	"context"
	"errors"
	"time"

	"example.com/payment-recon/pkg/circuitbreaker"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/services/recon/internal/domain"
)

// PendingSource — источник зависших транзакций для опроса.
// Реализуется репозиторием транзакций.
type PendingSource interface {
	ListPendingOlderThan(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error)
}

// Reconciler — вход движка сверки, достаточный для опроса.
// Реализуется сервисом сверки; интерфейс разрывает циклическую зависимость.
type Reconciler interface {
	// ReconcileVerification применяет финальный результат верификации провайдера.
	ReconcileVerification(ctx context.Context, res *VerificationResult) error
}

// PollerConfig — настройки фонового опроса.
type PollerConfig struct {
	// Interval — период между циклами опроса.
	Interval time.Duration

	// Age — возраст pending транзакции, после которого её пора опросить:
	// вебхук за это время не пришёл или потерялся.
	Age time.Duration

	// Batch — максимум транзакций за один цикл.
	Batch int
}

// StatusPoller — второй производитель событий сверки (после вебхука).
// Периодически опрашивает провайдера о зависших pending транзакциях и
// отдаёт финальные статусы в тот же Reconcile, что и вебхук: оба пути
// сходятся в одной идемпотентной, защищённой блокировками точке входа,
// поэтому двойное применение перехода невозможно.
type StatusPoller struct {
	source PendingSource
	client Client
	recon  Reconciler
	cfg    PollerConfig
}

// NewStatusPoller создаёт фоновый опрос статусов.
func NewStatusPoller(source PendingSource, client Client, recon Reconciler, cfg PollerConfig) *StatusPoller {
	return &StatusPoller{
		source: source,
		client: client,
		recon:  recon,
		cfg:    cfg,
	}
}

// Run запускает опрос. Блокирует выполнение до отмены контекста.
func (p *StatusPoller) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", p.cfg.Interval).
		Dur("age", p.cfg.Age).
		Int("batch", p.cfg.Batch).
		Msg("Запуск опроса статусов провайдера")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка опроса статусов провайдера")
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce выполняет один цикл опроса.
func (p *StatusPoller) pollOnce(ctx context.Context) {
	log := logger.FromContext(ctx)

	pending, err := p.source.ListPendingOlderThan(ctx, p.cfg.Age, p.cfg.Batch)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка выборки зависших транзакций")
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Debug().Int("count", len(pending)).Msg("Опрашиваем зависшие транзакции")

	for _, txn := range pending {
		if ctx.Err() != nil {
			return
		}

		res, err := p.client.VerifyTransaction(ctx, txn.ProviderReference)
		if err != nil {
			if errors.Is(err, circuitbreaker.ErrBreakerOpen) {
				// Провайдер лежит — остаток пачки догоним в следующем цикле.
				log.Warn().Msg("Circuit breaker открыт, цикл опроса прерван")
				return
			}
			log.Error().Err(err).
				Str("provider_reference", txn.ProviderReference).
				Msg("Ошибка верификации транзакции у провайдера")
			continue
		}

		if !res.Found || !res.Final {
			continue
		}

		if err := p.recon.ReconcileVerification(ctx, res); err != nil {
			log.Error().Err(err).
				Str("provider_reference", txn.ProviderReference).
				Str("status", res.Status).
				Msg("Ошибка сверки по результату опроса")
		}
	}
}

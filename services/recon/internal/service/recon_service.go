// Package service содержит бизнес-логику Recon Service: движок сверки,
// платёжные интенты, админские операции и аутентификацию операторов.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/payment-recon/pkg/config"
	"example.com/payment-recon/pkg/event"
	"example.com/payment-recon/pkg/kafka"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/pkg/metrics"
	"example.com/payment-recon/pkg/outbox"
	"example.com/payment-recon/pkg/reference"
	"example.com/payment-recon/services/recon/internal/domain"
	"example.com/payment-recon/services/recon/internal/guard"
	"example.com/payment-recon/services/recon/internal/provider"
	"example.com/payment-recon/services/recon/internal/repository"
)

// Outcome — классифицированный исход сверки.
// Исходы, кроме applied, — штатные бизнес-результаты, не ошибки.
type Outcome string

const (
	// OutcomeApplied — переход применён, уведомление поставлено в очередь.
	OutcomeApplied Outcome = "applied"

	// OutcomeReplay — повторная доставка или запоздавшее событие; no-op.
	OutcomeReplay Outcome = "replay"

	// OutcomeOrphan — заказ не распознан, транзакция сохранена сиротой.
	OutcomeOrphan Outcome = "orphan"

	// OutcomeMismatch — сумма разошлась сверх допуска, переход отклонён.
	OutcomeMismatch Outcome = "mismatch"

	// OutcomeBusy — заказ занят другим вызовом, повторить позже.
	OutcomeBusy Outcome = "busy"
)

// ReconcileRequest — входящее событие для сверки.
type ReconcileRequest struct {
	PaymentRef      string       // Платёжная ссылка из события
	ClaimedStatus   string       // Заявленный статус (сырой, валидируется)
	ClaimedAmount   *int64       // Заявленная сумма (nil = не передана)
	Currency        string       // Валюта события
	RawPayload      []byte       // Сырой payload провайдера
	Source          event.Source // webhook / poll / admin
	Actor           string       // Сессия оператора (source=admin)
	WebhookEventID  string       // ID события провайдера (source=webhook)
	OrderID         string       // Явный заказ (только админский путь)
	Reason          string       // Причина корректировки (source=admin)
	SkipAmountCheck bool         // Пропуск проверки суммы (только админ)
}

// ReconcileResult — структурированный результат сверки.
type ReconcileResult struct {
	Success          bool                 // Применён ли переход (или подтверждён replay)
	Outcome          Outcome              // Классификация исхода
	AlreadyProcessed bool                 // true для повторной доставки / no-op
	AmountVerified   bool                 // Прошла ли проверка суммы
	OrderID          string               // ID заказа (пусто для сирот)
	OrderNumber      string               // Номер заказа
	PreviousStatus   domain.PaymentStatus // Платёжный статус до сверки
	NewStatus        domain.PaymentStatus // Платёжный статус после сверки
	OrderStatus      domain.OrderStatus   // Статус жизненного цикла после сверки
	Reference        string               // Нормализованная ссылка
	FailureReason    string               // Причина отказа (для не-success исходов)
	RetryAfter       time.Duration        // Рекомендуемая задержка (Outcome=busy)
}

// ReconService — движок сверки: единственная точка, через которую
// вебхук, опрос и админский путь меняют платёжное состояние заказа.
type ReconService interface {
	// Reconcile валидирует событие и применяет атомарный переход
	// "только вперёд" под блокировкой строки заказа.
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error)

	// ReconcileVerification применяет финальный результат опроса провайдера.
	ReconcileVerification(ctx context.Context, res *provider.VerificationResult) error
}

// errAmountMismatch — внутренний сигнал отката транзакции при расхождении
// суммы; наружу уходит структурированный результат, не ошибка.
var errAmountMismatch = errors.New("расхождение суммы, транзакция откатывается")

// reconService — реализация ReconService.
type reconService struct {
	tx     repository.TxRunner
	orders repository.OrderRepository
	txns   repository.TransactionRepository
	locks  guard.AdvisoryLock
	cfg    config.ReconConfig
}

// NewReconService создаёт движок сверки.
func NewReconService(
	tx repository.TxRunner,
	orders repository.OrderRepository,
	txns repository.TransactionRepository,
	locks guard.AdvisoryLock,
	cfg config.ReconConfig,
) ReconService {
	return &reconService{
		tx:     tx,
		orders: orders,
		txns:   txns,
		locks:  locks,
		cfg:    cfg,
	}
}

// Reconcile выполняет сверку одного события.
//
// Порядок шагов фиксирован: валидация → нормализация ссылки → поиск
// заказа → кооперативная проверка → транзакция БД (блокировка строки,
// replay-проверка, проверка суммы, переход, upsert транзакции, outbox,
// аудит) → коммит. Любая ошибка БД откатывает всё целиком.
func (s *reconService) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	log := logger.Ctx(ctx)

	// Шаг 1: строгая валидация до любых записей и приведений типов.
	rawRef := strings.TrimSpace(req.PaymentRef)
	if rawRef == "" {
		return nil, domain.ErrEmptyReference
	}
	claimed, err := domain.ParseClaimedStatus(req.ClaimedStatus)
	if err != nil {
		log.Warn().
			Str("reference", rawRef).
			Str("claimed_status", req.ClaimedStatus).
			Msg("Событие с неизвестным статусом отклонено")
		return nil, err
	}

	// Шаг 2: нормализация легаси-ссылок.
	normalized := reference.Normalize(rawRef)

	// Шаг 3: поиск заказа.
	orderID, heuristic, err := s.resolveOrder(ctx, req, rawRef, normalized)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return s.persistOrphan(ctx, req, claimed, rawRef, normalized)
	}

	// Кооперативная блокировка: чужой держатель — retryable busy.
	// Недоступность Redis сверку не останавливает: блокировка строки
	// в шаге 4 остаётся обязательной защитой.
	holder, holderErr := s.locks.Holder(ctx, orderID)
	if holderErr != nil {
		log.Warn().Err(holderErr).Str("order_id", orderID).Msg("Не удалось проверить кооперативную блокировку")
	} else if holder != "" && holder != req.Actor {
		log.Info().
			Str("order_id", orderID).
			Str("holder", holder).
			Str("source", string(req.Source)).
			Msg("Заказ удержан кооперативной блокировкой, сверка отложена")
		metrics.RecordReconciliation(string(req.Source), string(OutcomeBusy))
		return &ReconcileResult{
			Outcome:       OutcomeBusy,
			OrderID:       orderID,
			Reference:     normalized,
			FailureReason: "заказ заблокирован оператором",
			RetryAfter:    s.cfg.AdvisoryLockTTL,
		}, nil
	}

	target := claimed.TargetPaymentStatus()
	idempotencyKey := domain.DeriveIdempotencyKey(normalized, target)

	// Шаги 4–9: атомарный переход под блокировкой строки заказа.
	var result *ReconcileResult
	txErr := s.tx.InTx(ctx, s.cfg.LockWaitTimeout, func(st repository.Stores) error {
		order, err := st.Orders.GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.IsArchived() {
			return domain.ErrOrderArchived
		}

		previous := order.PaymentStatus

		// Шаг 5: replay-проверка под блокировкой. Совпавший ключ
		// идемпотентности и "только вперёд" no-op отвечают существующим
		// состоянием и не порождают побочных эффектов. Появление при этом
		// всё равно фиксируется в транзакции (спец. кейс: заказ уже paid,
		// а транзакция ещё pending — её статус догоняет заказ).
		if order.PaymentStatus == target || !order.PaymentStatus.CanTransitionTo(target) {
			if _, _, err := st.Transactions.Upsert(ctx, s.upsertParams(req, claimed, rawRef, normalized, &orderID)); err != nil {
				return err
			}
			log.Info().
				Str("order_id", order.ID).
				Str("current_status", string(previous)).
				Str("target_status", string(target)).
				Str("source", string(req.Source)).
				Msg("Повторная или запоздавшая доставка, переход не выполняется")
			result = &ReconcileResult{
				Success:          true,
				Outcome:          OutcomeReplay,
				AlreadyProcessed: true,
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				PreviousStatus:   previous,
				NewStatus:        previous,
				OrderStatus:      order.Status,
				Reference:        normalized,
			}
			return nil
		}

		// Шаг 6: проверка суммы с допуском на округление шлюза.
		amountVerified := false
		if req.ClaimedAmount != nil && !req.SkipAmountCheck {
			diff := *req.ClaimedAmount - order.TotalAmount
			if diff < 0 {
				diff = -diff
			}
			if diff > s.cfg.AmountTolerance {
				log.Warn().
					Str("order_id", order.ID).
					Str("reference", normalized).
					Int64("claimed_amount", *req.ClaimedAmount).
					Int64("order_amount", order.TotalAmount).
					Msg("Расхождение суммы сверх допуска, переход отклонён")
				result = &ReconcileResult{
					Outcome:        OutcomeMismatch,
					AmountVerified: false,
					OrderID:        order.ID,
					OrderNumber:    order.OrderNumber,
					PreviousStatus: previous,
					NewStatus:      previous,
					OrderStatus:    order.Status,
					Reference:      normalized,
					FailureReason: fmt.Sprintf("сумма события %d не совпадает с суммой заказа %d",
						*req.ClaimedAmount, order.TotalAmount),
				}
				return errAmountMismatch
			}
			amountVerified = true
		}

		// Шаг 7: применяем переход.
		now := time.Now()
		if err := order.ApplyReconciliation(claimed, idempotencyKey, amountVerified, now); err != nil {
			return err
		}
		if err := st.Orders.UpdatePayment(ctx, order); err != nil {
			return err
		}
		if _, _, err := st.Transactions.Upsert(ctx, s.upsertParams(req, claimed, rawRef, normalized, &orderID)); err != nil {
			return err
		}

		// Аудит: ручные корректировки и эвристические совпадения
		// пишутся в той же транзакции, что и сам переход.
		if req.Source == event.SourceAdmin {
			if err := st.Audit.Create(ctx, &domain.AuditRecord{
				Actor:          req.Actor,
				Action:         domain.ActionAdminOverride,
				OrderID:        order.ID,
				Reference:      normalized,
				PreviousStatus: string(previous),
				NewStatus:      string(order.PaymentStatus),
				Reason:         req.Reason,
			}); err != nil {
				return err
			}
		}
		if heuristic {
			if err := st.Audit.Create(ctx, &domain.AuditRecord{
				Actor:          domain.ActorSystem,
				Action:         domain.ActionHeuristicMatch,
				OrderID:        order.ID,
				Reference:      normalized,
				PreviousStatus: string(previous),
				NewStatus:      string(order.PaymentStatus),
				Reason:         "заказ подобран по сумме и окну времени",
			}); err != nil {
				return err
			}
		}

		// Шаг 8: уведомление через outbox — ровно один раз на настоящий
		// переход, атомарно с ним. Недоступность Kafka сверку не трогает.
		if err := s.enqueueNotification(ctx, st, order, req, normalized, now); err != nil {
			return err
		}

		result = &ReconcileResult{
			Success:        true,
			Outcome:        OutcomeApplied,
			AmountVerified: amountVerified,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			PreviousStatus: previous,
			NewStatus:      order.PaymentStatus,
			OrderStatus:    order.Status,
			Reference:      normalized,
		}
		return nil
	})

	return s.finishReconcile(ctx, req, claimed, rawRef, normalized, result, txErr)
}

// finishReconcile классифицирует исход транзакции сверки.
func (s *reconService) finishReconcile(
	ctx context.Context,
	req ReconcileRequest,
	claimed domain.ClaimedStatus,
	rawRef, normalized string,
	result *ReconcileResult,
	txErr error,
) (*ReconcileResult, error) {
	log := logger.Ctx(ctx)

	switch {
	case txErr == nil:
		if result.Outcome == OutcomeApplied {
			log.Info().
				Str("order_id", result.OrderID).
				Str("order_number", result.OrderNumber).
				Str("previous_status", string(result.PreviousStatus)).
				Str("new_status", string(result.NewStatus)).
				Str("source", string(req.Source)).
				Msg("Сверка применена")
		}
		metrics.RecordReconciliation(string(req.Source), string(result.Outcome))
		return result, nil

	case errors.Is(txErr, errAmountMismatch):
		// Откат не должен потерять само появление события — фиксируем
		// его отдельной записью, не продвигая статус транзакции.
		params := s.upsertParams(req, claimed, rawRef, normalized, &result.OrderID)
		params.Status = domain.TransactionStatusPending
		if _, _, err := s.txns.Upsert(ctx, params); err != nil {
			log.Error().Err(err).Str("reference", normalized).Msg("Не удалось зафиксировать появление события при расхождении суммы")
		}
		metrics.AmountMismatchesTotal.Inc()
		metrics.RecordReconciliation(string(req.Source), string(OutcomeMismatch))
		return result, nil

	case errors.Is(txErr, domain.ErrOrderBusy):
		metrics.RecordReconciliation(string(req.Source), string(OutcomeBusy))
		return &ReconcileResult{
			Outcome:       OutcomeBusy,
			Reference:     normalized,
			FailureReason: "не удалось получить блокировку заказа",
			RetryAfter:    s.cfg.LockWaitTimeout,
		}, nil

	default:
		// Инфраструктурная ошибка: всё откатилось, логируем с контекстом
		// для ручного повтора. Повтор безопасен благодаря идемпотентности.
		log.Error().
			Err(txErr).
			Str("reference", normalized).
			Str("claimed_status", string(claimed)).
			Str("source", string(req.Source)).
			Msg("Сверка откатилась из-за ошибки хранилища")
		metrics.RecordReconciliation(string(req.Source), "error")
		return nil, fmt.Errorf("ошибка сверки по ссылке %s: %w", normalized, txErr)
	}
}

// resolveOrder находит заказ для события: сначала по связи
// транзакция → заказ, затем по ссылке самого заказа, в последнюю
// очередь — эвристикой (если включена). Возвращает пустой ID, если
// заказ не распознан (путь сироты).
func (s *reconService) resolveOrder(ctx context.Context, req ReconcileRequest, rawRef, normalized string) (string, bool, error) {
	// Админский путь указывает заказ явно.
	if req.OrderID != "" {
		return req.OrderID, false, nil
	}

	txn, err := s.txns.GetByProviderReference(ctx, rawRef, normalized)
	if err == nil && txn.OrderID != nil {
		return *txn.OrderID, false, nil
	}
	if err != nil && !errors.Is(err, domain.ErrTransactionNotFound) {
		return "", false, err
	}

	order, err := s.orders.GetByPaymentReference(ctx, normalized)
	if err == nil {
		return order.ID, false, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return "", false, err
	}

	return s.resolveByHeuristic(ctx, req, normalized)
}

// resolveByHeuristic подбирает заказ по точной сумме в недавнем окне.
// Путь последней надежды: выключен по умолчанию, требует заявленную
// сумму, любая неоднозначность — отказ от совпадения. Каждое
// срабатывание аудируется (в транзакции сверки) и логируется.
func (s *reconService) resolveByHeuristic(ctx context.Context, req ReconcileRequest, normalized string) (string, bool, error) {
	if !s.cfg.HeuristicMatch || req.ClaimedAmount == nil {
		return "", false, nil
	}

	log := logger.Ctx(ctx)
	since := time.Now().Add(-s.cfg.HeuristicWindow)

	candidates, err := s.orders.FindRecentPendingByAmount(ctx, *req.ClaimedAmount, since)
	if err != nil {
		return "", false, err
	}

	switch len(candidates) {
	case 1:
		log.Warn().
			Str("reference", normalized).
			Str("order_id", candidates[0].ID).
			Int64("amount", *req.ClaimedAmount).
			Msg("Заказ подобран эвристикой по сумме — требуется проверка оператором")
		return candidates[0].ID, true, nil
	case 0:
		return "", false, nil
	default:
		// Два заказа с одной суммой рядом во времени неразличимы.
		log.Warn().
			Str("reference", normalized).
			Int("candidates", len(candidates)).
			Msg("Эвристика нашла несколько кандидатов, совпадение отклонено")
		return "", false, nil
	}
}

// persistOrphan сохраняет транзакцию-сироту и возвращает структурированный
// отказ. Ожидаемый случай (событие пришло раньше заказа или ссылка чужая),
// не исключение: опрос вернётся к ссылке позже, оператор видит сироту в API.
func (s *reconService) persistOrphan(ctx context.Context, req ReconcileRequest, claimed domain.ClaimedStatus, rawRef, normalized string) (*ReconcileResult, error) {
	params := s.upsertParams(req, claimed, rawRef, normalized, nil)
	params.Status = domain.TransactionStatusOrphaned

	if _, _, err := s.txns.Upsert(ctx, params); err != nil {
		return nil, fmt.Errorf("ошибка сохранения транзакции-сироты: %w", err)
	}

	logger.Ctx(ctx).Warn().
		Str("reference", normalized).
		Str("claimed_status", string(claimed)).
		Str("source", string(req.Source)).
		Msg("Заказ по ссылке не найден, транзакция сохранена сиротой")

	metrics.OrphanTransactionsTotal.Inc()
	metrics.RecordReconciliation(string(req.Source), string(OutcomeOrphan))

	return &ReconcileResult{
		Success:       false,
		Outcome:       OutcomeOrphan,
		Reference:     normalized,
		FailureReason: "заказ по платёжной ссылке не найден",
	}, nil
}

// upsertParams собирает параметры фиксации появления события.
func (s *reconService) upsertParams(req ReconcileRequest, claimed domain.ClaimedStatus, rawRef, normalized string, orderID *string) repository.UpsertParams {
	params := repository.UpsertParams{
		Reference:         normalized,
		ProviderReference: rawRef,
		OrderID:           orderID,
		Currency:          req.Currency,
		Status:            claimed.TargetTransactionStatus(),
		RawPayload:        req.RawPayload,
	}
	if params.Currency == "" {
		params.Currency = s.cfg.Currency
	}
	if req.ClaimedAmount != nil {
		params.Amount = *req.ClaimedAmount
	}
	if req.WebhookEventID != "" {
		eventID := req.WebhookEventID
		params.WebhookEventID = &eventID
	}
	return params
}

// enqueueNotification записывает событие о переходе в outbox.
func (s *reconService) enqueueNotification(ctx context.Context, st repository.Stores, order *domain.Order, req ReconcileRequest, normalized string, now time.Time) error {
	evType := event.ForPaymentStatus(string(order.PaymentStatus))
	if evType == "" {
		return nil
	}

	ev := &event.OrderEvent{
		EventID:       uuid.New().String(),
		Type:          evType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Recipient:     order.CustomerEmail,
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.Status),
		Reference:     normalized,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		Source:        req.Source,
		Actor:         req.Actor,
		OccurredAt:    now,
	}

	payload, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации события заказа: %w", err)
	}

	record := &outbox.Outbox{
		ID:            uuid.New().String(),
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(evType),
		Topic:         kafka.TopicOrderEvents,
		MessageKey:    order.ID,
		Payload:       payload,
	}

	// Сквозная трассировка: ID запроса уезжают в Kafka headers
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		record.Headers = map[string]string{"trace_id": traceID}
		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			record.Headers["correlation_id"] = correlationID
		}
	}

	return st.Outbox.Create(ctx, record)
}

// ReconcileVerification применяет финальный результат опроса провайдера.
func (s *reconService) ReconcileVerification(ctx context.Context, res *provider.VerificationResult) error {
	if !res.Found || !res.Final {
		return nil
	}

	req := ReconcileRequest{
		PaymentRef:    res.Reference,
		ClaimedStatus: string(res.Claimed),
		Currency:      res.Currency,
		RawPayload:    res.Raw,
		Source:        event.SourcePoll,
	}
	if res.Amount > 0 {
		amount := res.Amount
		req.ClaimedAmount = &amount
	}

	_, err := s.Reconcile(ctx, req)
	return err
}

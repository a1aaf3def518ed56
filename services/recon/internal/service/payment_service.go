package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"example.com/payment-recon/pkg/config"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/pkg/reference"
	"example.com/payment-recon/services/recon/internal/domain"
	"example.com/payment-recon/services/recon/internal/provider"
	"example.com/payment-recon/services/recon/internal/repository"
)

// CreateIntentRequest — запрос на создание платёжного интента.
type CreateIntentRequest struct {
	OrderNumber    string // Номер заказа
	Email          string // Email покупателя (сверяется с заказом)
	IdempotencyKey string // Клиентский ключ идемпотентности (опционально)
}

// IntentResult — созданный (или уже существующий) платёжный интент.
type IntentResult struct {
	Reference     string // Платёжная ссылка для шлюза
	Amount        int64  // Сумма в минимальных единицах
	Currency      string // Валюта
	AlreadyExists bool   // true при повторе ключа идемпотентности
}

// StatusResult — ответ на клиентскую проверку статуса оплаты.
type StatusResult struct {
	Reference      string                   // Нормализованная ссылка
	OrderNumber    string                   // Номер заказа (если распознан)
	PaymentStatus  domain.PaymentStatus     // Платёжный статус заказа
	OrderStatus    domain.OrderStatus       // Статус жизненного цикла
	Transaction    domain.TransactionStatus // Статус транзакции
	ProviderStatus string                   // Сырой статус провайдера (если опрошен)
	Verified       bool                     // Удалось ли опросить провайдера
}

// PaymentService — клиентская часть платёжного потока: создание интентов
// и проверка статуса. Проверка статуса — один из двух производителей
// событий сверки: финальный ответ провайдера уходит в тот же Reconcile.
type PaymentService interface {
	// CreateIntent создаёт попытку оплаты для заказа.
	// Повторный вызов с тем же ключом идемпотентности возвращает её же.
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentResult, error)

	// CheckStatus возвращает состояние оплаты по ссылке, предварительно
	// сверив финальный статус провайдера, если тот доступен.
	CheckStatus(ctx context.Context, ref string) (*StatusResult, error)
}

// paymentService — реализация PaymentService.
type paymentService struct {
	orders repository.OrderRepository
	txns   repository.TransactionRepository
	client provider.Client
	recon  ReconService
	cfg    config.ReconConfig
}

// NewPaymentService создаёт сервис платёжных интентов.
func NewPaymentService(
	orders repository.OrderRepository,
	txns repository.TransactionRepository,
	client provider.Client,
	recon ReconService,
	cfg config.ReconConfig,
) PaymentService {
	return &paymentService{
		orders: orders,
		txns:   txns,
		client: client,
		recon:  recon,
		cfg:    cfg,
	}
}

// CreateIntent создаёт попытку оплаты.
func (s *paymentService) CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentResult, error) {
	log := logger.Ctx(ctx)

	// Повтор ключа идемпотентности возвращает существующую попытку.
	if req.IdempotencyKey != "" {
		existing, err := s.txns.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			log.Info().
				Str("reference", existing.ProviderReference).
				Str("idempotency_key", req.IdempotencyKey).
				Msg("Интент уже существует (идемпотентность)")
			return &IntentResult{
				Reference:     existing.ProviderReference,
				Amount:        existing.Amount,
				Currency:      existing.Currency,
				AlreadyExists: true,
			}, nil
		}
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
	}

	order, err := s.orders.GetByNumber(ctx, strings.TrimSpace(req.OrderNumber))
	if err != nil {
		return nil, err
	}
	// Email как слабое подтверждение владения заказом: чужой заказ
	// по номеру наружу не отдаём.
	if !strings.EqualFold(order.CustomerEmail, strings.TrimSpace(req.Email)) {
		return nil, domain.ErrOrderNotFound
	}
	if order.IsArchived() {
		return nil, domain.ErrOrderArchived
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return nil, domain.ErrOrderNotPayable
	}

	ref, err := reference.Generate(reference.KindTransaction)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации платёжной ссылки: %w", err)
	}

	params := repository.UpsertParams{
		Reference:         ref,
		ProviderReference: ref,
		OrderID:           &order.ID,
		Amount:            order.TotalAmount,
		Currency:          order.Currency,
		Status:            domain.TransactionStatusPending,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		params.IdempotencyKey = &key
	}

	txn, already, err := s.txns.Upsert(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания транзакции интента: %w", err)
	}
	if already {
		// Гонка двух запросов с одним ключом: вторая вставка схлопнулась
		// в существующую строку, возвращаем её.
		return &IntentResult{
			Reference:     txn.ProviderReference,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			AlreadyExists: true,
		}, nil
	}

	// Текущая каноническая ссылка заказа — последняя созданная попытка.
	if err := s.orders.SetPaymentReference(ctx, order.ID, ref); err != nil {
		return nil, fmt.Errorf("ошибка привязки ссылки к заказу: %w", err)
	}

	log.Info().
		Str("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Str("reference", ref).
		Int64("amount", order.TotalAmount).
		Msg("Платёжный интент создан")

	return &IntentResult{
		Reference: ref,
		Amount:    order.TotalAmount,
		Currency:  order.Currency,
	}, nil
}

// CheckStatus возвращает состояние оплаты по ссылке.
//
// Сначала пытаемся спросить провайдера: финальный статус немедленно
// уходит в сверку, и клиент видит уже применённое состояние — так
// опрос не может разойтись с вебхуком. Если провайдер недоступен
// (breaker открыт, сеть), отвечаем сохранённым состоянием.
func (s *paymentService) CheckStatus(ctx context.Context, ref string) (*StatusResult, error) {
	log := logger.Ctx(ctx)

	rawRef := strings.TrimSpace(ref)
	if rawRef == "" {
		return nil, domain.ErrEmptyReference
	}
	normalized := reference.Normalize(rawRef)

	result := &StatusResult{Reference: normalized}

	res, err := s.client.VerifyTransaction(ctx, rawRef)
	if err != nil {
		log.Warn().Err(err).Str("reference", normalized).Msg("Провайдер недоступен, отвечаем сохранённым статусом")
	} else if res.Found {
		result.ProviderStatus = res.Status
		result.Verified = true
		if res.Final {
			if err := s.recon.ReconcileVerification(ctx, res); err != nil {
				log.Error().Err(err).Str("reference", normalized).Msg("Ошибка сверки при проверке статуса")
			}
		}
	}

	txn, err := s.txns.GetByProviderReference(ctx, rawRef, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	result.Transaction = txn.Status

	if txn.OrderID != nil {
		order, err := s.orders.GetByID(ctx, *txn.OrderID)
		if err != nil {
			return nil, err
		}
		result.OrderNumber = order.OrderNumber
		result.PaymentStatus = order.PaymentStatus
		result.OrderStatus = order.Status
	}

	return result, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/services/recon/internal/domain"
)

// UpsertParams — параметры идемпотентного upsert транзакции.
// Отражает одно появление платёжной попытки: интент, вебхук или опрос.
type UpsertParams struct {
	Reference         string                   // Внутренняя каноническая ссылка
	ProviderReference string                   // Ссылка провайдера как получена
	OrderID           *string                  // Заказ, если распознан
	Amount            int64                    // Сумма в минимальных единицах
	Currency          string                   // Валюта
	Status            domain.TransactionStatus // Заявленный статус появления
	IdempotencyKey    *string                  // Клиентский ключ идемпотентности
	WebhookEventID    *string                  // ID события провайдера
	RawPayload        []byte                   // Сырой payload провайдера
}

// TransactionRepository определяет интерфейс хранилища транзакций.
type TransactionRepository interface {
	// Upsert создаёт транзакцию или вливает новое появление в существующую.
	// Возвращает итоговую строку и alreadyProcessed: false ровно тогда,
	// когда строка создана или её статус продвинулся вперёд —
	// вызывающий код отсекает по нему побочные эффекты.
	Upsert(ctx context.Context, params UpsertParams) (*domain.Transaction, bool, error)

	// GetByID возвращает транзакцию по внутреннему ID.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// GetByProviderReference возвращает транзакцию по любой из переданных
	// форм ссылки (сырая и нормализованная).
	GetByProviderReference(ctx context.Context, refs ...string) (*domain.Transaction, error)

	// GetByIdempotencyKey возвращает транзакцию по клиентскому ключу идемпотентности.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)

	// ListByOrder возвращает все транзакции заказа.
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Transaction, error)

	// ListOrphaned возвращает страницу осиротевших транзакций и их общее число.
	ListOrphaned(ctx context.Context, limit, offset int) ([]*domain.Transaction, int64, error)

	// ListPendingOlderThan возвращает pending транзакции старше указанного
	// возраста — вход фонового опроса провайдера.
	ListPendingOlderThan(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error)

	// LinkOrder привязывает транзакцию к заказу (разбор сирот оператором).
	LinkOrder(ctx context.Context, txID, orderID string) error

	// WithTx возвращает копию репозитория, работающую внутри переданной транзакции.
	WithTx(tx *gorm.DB) TransactionRepository
}

// =============================================================================
// GORM модель
// =============================================================================

// TransactionModel — GORM модель для таблицы transactions.
// Уникальные индексы на provider_reference и idempotency_key — страховка
// от гонок: конкурентные вставки вебхука и опроса схлопываются в одну строку.
type TransactionModel struct {
	ID                string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Reference         string    `gorm:"column:reference;type:varchar(64);not null;index"`
	ProviderReference string    `gorm:"column:provider_reference;type:varchar(128);not null;uniqueIndex"`
	OrderID           *string   `gorm:"column:order_id;type:varchar(36);index"`
	Amount            int64     `gorm:"column:amount;not null"`
	Currency          string    `gorm:"column:currency;type:varchar(3);not null"`
	Status            string    `gorm:"column:status;type:varchar(20);not null;index"`
	RawPayload        []byte    `gorm:"column:raw_payload;type:json"`
	IdempotencyKey    *string   `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	WebhookEventID    *string   `gorm:"column:webhook_event_id;type:varchar(128)"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (TransactionModel) TableName() string {
	return "transactions"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *TransactionModel) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:                m.ID,
		Reference:         m.Reference,
		ProviderReference: m.ProviderReference,
		OrderID:           m.OrderID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Status:            domain.TransactionStatus(m.Status),
		RawPayload:        m.RawPayload,
		IdempotencyKey:    m.IdempotencyKey,
		WebhookEventID:    m.WebhookEventID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// transactionRepository — GORM реализация TransactionRepository.
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository создаёт новый репозиторий транзакций.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// WithTx возвращает копию репозитория поверх транзакции.
func (r *transactionRepository) WithTx(tx *gorm.DB) TransactionRepository {
	return &transactionRepository{db: tx}
}

// Upsert создаёт или вливает появление платёжной попытки.
//
// Вставка первой, конфликт уникального индекса — сигнал "строка уже есть,
// читаем и вливаем". Статус при слиянии побеждает только если представляет
// более продвинутое состояние; регресс (completed → pending от запоздавшего
// события) не выполняется и не является ошибкой — логируется и
// возвращается alreadyProcessed=true.
func (r *transactionRepository) Upsert(ctx context.Context, params UpsertParams) (*domain.Transaction, bool, error) {
	model := &TransactionModel{
		ID:                uuid.New().String(),
		Reference:         params.Reference,
		ProviderReference: params.ProviderReference,
		OrderID:           params.OrderID,
		Amount:            params.Amount,
		Currency:          params.Currency,
		Status:            string(params.Status),
		RawPayload:        params.RawPayload,
		IdempotencyKey:    params.IdempotencyKey,
		WebhookEventID:    params.WebhookEventID,
	}

	err := r.db.WithContext(ctx).Create(model).Error
	if err == nil {
		return model.toDomain(), false, nil
	}
	if !isDuplicateKeyError(err) {
		return nil, false, err
	}

	// Строка уже существует — читаем её и вливаем новое появление.
	existing, getErr := r.getExisting(ctx, params)
	if getErr != nil {
		return nil, false, getErr
	}

	return r.merge(ctx, existing, params)
}

// getExisting находит строку, с которой столкнулась вставка:
// сначала по ссылке провайдера, затем по клиентскому ключу идемпотентности.
func (r *transactionRepository) getExisting(ctx context.Context, params UpsertParams) (*domain.Transaction, error) {
	existing, err := r.GetByProviderReference(ctx, params.ProviderReference)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, err
	}
	if params.IdempotencyKey != nil {
		return r.GetByIdempotencyKey(ctx, *params.IdempotencyKey)
	}
	return nil, domain.ErrTransactionNotFound
}

// merge вливает новое появление в существующую строку.
func (r *transactionRepository) merge(ctx context.Context, existing *domain.Transaction, params UpsertParams) (*domain.Transaction, bool, error) {
	advanced := params.Status != existing.Status &&
		existing.Status.CanTransitionTo(params.Status)

	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if len(params.RawPayload) > 0 {
		updates["raw_payload"] = params.RawPayload
	}
	if params.WebhookEventID != nil {
		updates["webhook_event_id"] = *params.WebhookEventID
	}
	// Привязка к заказу заполняется, но никогда не перетирается:
	// сирота "оживает", уже привязанная транзакция не перепривязывается.
	if existing.OrderID == nil && params.OrderID != nil {
		updates["order_id"] = *params.OrderID
		existing.OrderID = params.OrderID
	}

	if advanced {
		updates["status"] = string(params.Status)
		existing.Status = params.Status
	} else if params.Status != existing.Status {
		logger.Ctx(ctx).Warn().
			Str("provider_reference", existing.ProviderReference).
			Str("current_status", string(existing.Status)).
			Str("claimed_status", string(params.Status)).
			Msg("Регрессивный статус транзакции отклонён (no-op)")
	}

	if err := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return nil, false, err
	}

	return existing, !advanced, nil
}

// GetByID возвращает транзакцию по внутреннему ID.
func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var model TransactionModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByProviderReference возвращает транзакцию по любой из форм ссылки.
func (r *transactionRepository) GetByProviderReference(ctx context.Context, refs ...string) (*domain.Transaction, error) {
	var model TransactionModel

	if err := r.db.WithContext(ctx).
		Where("provider_reference IN ?", refs).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByIdempotencyKey возвращает транзакцию по клиентскому ключу идемпотентности.
func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	var model TransactionModel

	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListByOrder возвращает все транзакции заказа.
func (r *transactionRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Transaction, error) {
	var models []TransactionModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	return modelsToDomain(models), nil
}

// ListOrphaned возвращает страницу осиротевших транзакций.
func (r *transactionRepository) ListOrphaned(ctx context.Context, limit, offset int) ([]*domain.Transaction, int64, error) {
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("status = ?", string(domain.TransactionStatusOrphaned)).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []TransactionModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.TransactionStatusOrphaned)).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	return modelsToDomain(models), total, nil
}

// ListPendingOlderThan возвращает pending транзакции старше указанного возраста.
func (r *transactionRepository) ListPendingOlderThan(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error) {
	var models []TransactionModel

	threshold := time.Now().Add(-olderThan)

	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.TransactionStatusPending), threshold).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	return modelsToDomain(models), nil
}

// LinkOrder привязывает транзакцию к заказу.
func (r *transactionRepository) LinkOrder(ctx context.Context, txID, orderID string) error {
	result := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("id = ?", txID).
		Updates(map[string]interface{}{
			"order_id":   orderID,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// modelsToDomain конвертирует список моделей в доменные сущности.
func modelsToDomain(models []TransactionModel) []*domain.Transaction {
	result := make([]*domain.Transaction, 0, len(models))
	for i := range models {
		result = append(result, models[i].toDomain())
	}
	return result
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEventRepository — журнал дедупликации событий провайдера.
// Быстрый путь дедупликации живёт в Redis (SETNX с TTL); эта таблица —
// долговечная страховка: уникальный индекс (provider, provider_event_id)
// отсекает точные повторные доставки даже после потери ключей Redis.
type WebhookEventRepository interface {
	// Record фиксирует первое появление события.
	// Возвращает false, если событие уже успешно обработано (повторная
	// доставка). Событие с ошибкой обработки пропускается на повторную
	// попытку: движок сверки идемпотентен.
	Record(ctx context.Context, provider, eventID string) (bool, error)

	// MarkProcessed отмечает успешную обработку события.
	MarkProcessed(ctx context.Context, provider, eventID string) error

	// MarkFailed сохраняет ошибку обработки события для разбора оператором.
	MarkFailed(ctx context.Context, provider, eventID string, processingErr error) error
}

// =============================================================================
// GORM модель
// =============================================================================

// WebhookEventModel — GORM модель для таблицы webhook_events.
type WebhookEventModel struct {
	ID              string     `gorm:"column:id;type:varchar(36);primaryKey"`
	Provider        string     `gorm:"column:provider;type:varchar(50);not null;uniqueIndex:idx_provider_event"`
	ProviderEventID string     `gorm:"column:provider_event_id;type:varchar(128);not null;uniqueIndex:idx_provider_event"`
	ReceivedAt      time.Time  `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
	ProcessingError *string    `gorm:"column:processing_error;type:text"`
}

// TableName возвращает имя таблицы в БД.
func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// webhookEventRepository — GORM реализация WebhookEventRepository.
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository создаёт новый журнал событий вебхуков.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// Record фиксирует первое появление события.
func (r *webhookEventRepository) Record(ctx context.Context, provider, eventID string) (bool, error) {
	model := &WebhookEventModel{
		ID:              uuid.New().String(),
		Provider:        provider,
		ProviderEventID: eventID,
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			// Запись уже есть. Отсекаем доставку только если обработка
			// завершилась успешно; сбойное событие уходит на повтор.
			var existing WebhookEventModel
			if err := r.db.WithContext(ctx).
				Where("provider = ? AND provider_event_id = ?", provider, eventID).
				First(&existing).Error; err != nil {
				return false, err
			}
			return existing.ProcessedAt == nil, nil
		}
		return false, err
	}

	return true, nil
}

// MarkProcessed отмечает успешную обработку события.
func (r *webhookEventRepository) MarkProcessed(ctx context.Context, provider, eventID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Updates(map[string]interface{}{
			"processed_at":     now,
			"processing_error": nil,
		}).Error
}

// MarkFailed сохраняет ошибку обработки события.
func (r *webhookEventRepository) MarkFailed(ctx context.Context, provider, eventID string, processingErr error) error {
	msg := processingErr.Error()
	return r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Update("processing_error", &msg).Error
}

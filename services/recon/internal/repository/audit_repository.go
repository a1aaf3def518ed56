package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/payment-recon/services/recon/internal/domain"
)

// AuditRepository — хранилище записей аудита.
type AuditRepository interface {
	// Create сохраняет запись аудита.
	// Для ручных корректировок и эвристики вызывается внутри транзакции сверки.
	Create(ctx context.Context, record *domain.AuditRecord) error

	// ListByOrder возвращает записи аудита заказа в хронологическом порядке.
	ListByOrder(ctx context.Context, orderID string) ([]*domain.AuditRecord, error)

	// WithTx возвращает копию репозитория, работающую внутри переданной транзакции.
	WithTx(tx *gorm.DB) AuditRepository
}

// =============================================================================
// GORM модель
// =============================================================================

// AuditModel — GORM модель для таблицы audit_records.
type AuditModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Actor          string    `gorm:"column:actor;type:varchar(64);not null;index"`
	Action         string    `gorm:"column:action;type:varchar(32);not null;index"`
	OrderID        string    `gorm:"column:order_id;type:varchar(36);index"`
	Reference      string    `gorm:"column:reference;type:varchar(128)"`
	PreviousStatus string    `gorm:"column:previous_status;type:varchar(20)"`
	NewStatus      string    `gorm:"column:new_status;type:varchar(20)"`
	Reason         string    `gorm:"column:reason;type:text"`
	Detail         []byte    `gorm:"column:detail;type:json"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName возвращает имя таблицы в БД.
func (AuditModel) TableName() string {
	return "audit_records"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *AuditModel) toDomain() *domain.AuditRecord {
	return &domain.AuditRecord{
		ID:             m.ID,
		Actor:          m.Actor,
		Action:         domain.AuditAction(m.Action),
		OrderID:        m.OrderID,
		Reference:      m.Reference,
		PreviousStatus: m.PreviousStatus,
		NewStatus:      m.NewStatus,
		Reason:         m.Reason,
		Detail:         m.Detail,
		CreatedAt:      m.CreatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// auditRepository — GORM реализация AuditRepository.
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository создаёт новый репозиторий аудита.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// WithTx возвращает копию репозитория поверх транзакции.
func (r *auditRepository) WithTx(tx *gorm.DB) AuditRepository {
	return &auditRepository{db: tx}
}

// Create сохраняет запись аудита.
func (r *auditRepository) Create(ctx context.Context, record *domain.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	model := &AuditModel{
		ID:             record.ID,
		Actor:          record.Actor,
		Action:         string(record.Action),
		OrderID:        record.OrderID,
		Reference:      record.Reference,
		PreviousStatus: record.PreviousStatus,
		NewStatus:      record.NewStatus,
		Reason:         record.Reason,
		Detail:         record.Detail,
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	record.CreatedAt = model.CreatedAt
	return nil
}

// ListByOrder возвращает записи аудита заказа.
func (r *auditRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.AuditRecord, error) {
	var models []AuditModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*domain.AuditRecord, 0, len(models))
	for i := range models {
		records = append(records, models[i].toDomain())
	}
	return records, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/payment-recon/services/recon/internal/domain"
)

// OrderRepository определяет интерфейс доступа к заказам.
type OrderRepository interface {
	// Create создаёт новый заказ (чекаут и тесты).
	Create(ctx context.Context, order *domain.Order) error

	// GetByID возвращает заказ по ID.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByNumber возвращает заказ по человекочитаемому номеру.
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)

	// GetByPaymentReference возвращает заказ по текущей платёжной ссылке.
	GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error)

	// GetByIDForUpdate возвращает заказ под блокировкой строки (SELECT ... FOR UPDATE).
	// Имеет смысл только внутри транзакции (WithTx); ожидание блокировки
	// ограничено innodb_lock_wait_timeout, истечение — domain.ErrOrderBusy.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Order, error)

	// FindRecentPendingByAmount возвращает неархивные заказы с точной суммой,
	// ожидающие оплаты и созданные не раньше since. Вход эвристики подбора.
	FindRecentPendingByAmount(ctx context.Context, amount int64, since time.Time) ([]*domain.Order, error)

	// UpdatePayment записывает платёжные поля заказа одной командой.
	// Вызывается движком сверки внутри транзакции под блокировкой строки.
	UpdatePayment(ctx context.Context, order *domain.Order) error

	// SetPaymentReference устанавливает текущую каноническую ссылку заказа.
	SetPaymentReference(ctx context.Context, id, ref string) error

	// SetProcessingLock выставляет зеркало кооперативной блокировки.
	SetProcessingLock(ctx context.Context, id string, locked bool) error

	// WithTx возвращает копию репозитория, работающую внутри переданной транзакции.
	WithTx(tx *gorm.DB) OrderRepository
}

// =============================================================================
// GORM модель
// =============================================================================

// OrderModel — GORM модель для таблицы orders.
type OrderModel struct {
	ID                string     `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderNumber       string     `gorm:"column:order_number;type:varchar(32);not null;uniqueIndex"`
	CustomerEmail     string     `gorm:"column:customer_email;type:varchar(255);not null;index"`
	TotalAmount       int64      `gorm:"column:total_amount;not null"`
	Currency          string     `gorm:"column:currency;type:varchar(3);not null"`
	Status            string     `gorm:"column:status;type:varchar(20);not null;index"`
	PaymentStatus     string     `gorm:"column:payment_status;type:varchar(20);not null;index"`
	PaymentReference  *string    `gorm:"column:payment_reference;type:varchar(64);uniqueIndex"`
	IdempotencyKey    *string    `gorm:"column:idempotency_key;type:varchar(64)"`
	ProcessingLock    bool       `gorm:"column:processing_lock;not null;default:false"`
	PaidAt            *time.Time `gorm:"column:paid_at"`
	PaymentVerifiedAt *time.Time `gorm:"column:payment_verified_at"`
	ArchivedAt        *time.Time `gorm:"column:archived_at;index"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *OrderModel) toDomain() *domain.Order {
	o := &domain.Order{
		ID:                m.ID,
		OrderNumber:       m.OrderNumber,
		CustomerEmail:     m.CustomerEmail,
		TotalAmount:       m.TotalAmount,
		Currency:          m.Currency,
		Status:            domain.OrderStatus(m.Status),
		PaymentStatus:     domain.PaymentStatus(m.PaymentStatus),
		ProcessingLock:    m.ProcessingLock,
		PaidAt:            m.PaidAt,
		PaymentVerifiedAt: m.PaymentVerifiedAt,
		ArchivedAt:        m.ArchivedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.PaymentReference != nil {
		o.PaymentReference = *m.PaymentReference
	}
	if m.IdempotencyKey != nil {
		o.IdempotencyKey = *m.IdempotencyKey
	}
	return o
}

// orderModelFromDomain конвертирует доменную сущность в GORM модель.
func orderModelFromDomain(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		CustomerEmail:     o.CustomerEmail,
		TotalAmount:       o.TotalAmount,
		Currency:          o.Currency,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		ProcessingLock:    o.ProcessingLock,
		PaidAt:            o.PaidAt,
		PaymentVerifiedAt: o.PaymentVerifiedAt,
		ArchivedAt:        o.ArchivedAt,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	if o.PaymentReference != "" {
		m.PaymentReference = &o.PaymentReference
	}
	if o.IdempotencyKey != "" {
		m.IdempotencyKey = &o.IdempotencyKey
	}
	return m
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// WithTx возвращает копию репозитория поверх транзакции.
func (r *orderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &orderRepository{db: tx}
}

// Create создаёт новый заказ.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := orderModelFromDomain(order)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID возвращает заказ по ID.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByNumber возвращает заказ по номеру.
func (r *orderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getOne(ctx, "order_number = ?", number)
}

// GetByPaymentReference возвращает заказ по платёжной ссылке.
func (r *orderRepository) GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	return r.getOne(ctx, "payment_reference = ?", ref)
}

// getOne возвращает один заказ по условию.
func (r *orderRepository) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Where(query, arg).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByIDForUpdate возвращает заказ под блокировкой строки.
func (r *orderRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		if isLockWaitTimeout(err) {
			return nil, domain.ErrOrderBusy
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// FindRecentPendingByAmount возвращает кандидатов для эвристического подбора.
func (r *orderRepository) FindRecentPendingByAmount(ctx context.Context, amount int64, since time.Time) ([]*domain.Order, error) {
	var models []OrderModel

	if err := r.db.WithContext(ctx).
		Where("total_amount = ? AND payment_status = ? AND archived_at IS NULL AND created_at >= ?",
			amount, string(domain.PaymentStatusPending), since).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, models[i].toDomain())
	}
	return orders, nil
}

// UpdatePayment записывает платёжные поля заказа.
func (r *orderRepository) UpdatePayment(ctx context.Context, order *domain.Order) error {
	model := orderModelFromDomain(order)
	model.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]interface{}{
			"status":              model.Status,
			"payment_status":      model.PaymentStatus,
			"payment_reference":   model.PaymentReference,
			"idempotency_key":     model.IdempotencyKey,
			"paid_at":             model.PaidAt,
			"payment_verified_at": model.PaymentVerifiedAt,
			"updated_at":          model.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}

	order.UpdatedAt = model.UpdatedAt
	return nil
}

// SetPaymentReference устанавливает текущую платёжную ссылку заказа.
func (r *orderRepository) SetPaymentReference(ctx context.Context, id, ref string) error {
	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payment_reference": ref,
			"updated_at":        time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// SetProcessingLock выставляет зеркало кооперативной блокировки.
func (r *orderRepository) SetProcessingLock(ctx context.Context, id string, locked bool) error {
	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_lock": locked,
			"updated_at":      time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

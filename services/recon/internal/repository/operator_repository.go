package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/payment-recon/services/recon/internal/domain"
)

// OperatorRepository — хранилище учётных записей операторов.
type OperatorRepository interface {
	// Create создаёт оператора. Дубликат email — domain.ErrOperatorExists.
	Create(ctx context.Context, operator *domain.Operator) error

	// GetByEmail возвращает оператора по email.
	GetByEmail(ctx context.Context, email string) (*domain.Operator, error)

	// GetByID возвращает оператора по ID.
	GetByID(ctx context.Context, id string) (*domain.Operator, error)
}

// =============================================================================
// GORM модель
// =============================================================================

// OperatorModel — GORM модель для таблицы operators.
type OperatorModel struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name         string    `gorm:"column:name;type:varchar(255);not null"`
	Email        string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(255);not null"`
	Role         string    `gorm:"column:role;type:varchar(20);not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OperatorModel) TableName() string {
	return "operators"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *OperatorModel) toDomain() *domain.Operator {
	return &domain.Operator{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.OperatorRole(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// operatorRepository — GORM реализация OperatorRepository.
type operatorRepository struct {
	db *gorm.DB
}

// NewOperatorRepository создаёт новый репозиторий операторов.
func NewOperatorRepository(db *gorm.DB) OperatorRepository {
	return &operatorRepository{db: db}
}

// Create создаёт оператора.
func (r *operatorRepository) Create(ctx context.Context, operator *domain.Operator) error {
	model := &OperatorModel{
		ID:           operator.ID,
		Name:         operator.Name,
		Email:        operator.Email,
		PasswordHash: operator.PasswordHash,
		Role:         string(operator.Role),
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrOperatorExists
		}
		return err
	}

	operator.CreatedAt = model.CreatedAt
	operator.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByEmail возвращает оператора по email.
func (r *operatorRepository) GetByEmail(ctx context.Context, email string) (*domain.Operator, error) {
	var model OperatorModel

	if err := r.db.WithContext(ctx).
		Where("email = ?", email).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOperatorNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByID возвращает оператора по ID.
func (r *operatorRepository) GetByID(ctx context.Context, id string) (*domain.Operator, error) {
	var model OperatorModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOperatorNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

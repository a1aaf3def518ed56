package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/payment-recon/services/recon/internal/domain"
)

// orderRows возвращает строку результата с ключевыми колонками заказа.
func orderRows(id, number, paymentStatus string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "order_number", "customer_email", "total_amount", "currency",
		"status", "payment_status", "processing_lock", "created_at", "updated_at",
	})
	return rows.AddRow(id, number, "buyer@example.com", int64(150000), "RUB",
		"pending", paymentStatus, false, time.Now(), time.Now())
}

func TestOrderGetByID(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)

	mock.ExpectQuery("SELECT .* FROM `orders` WHERE id = ").
		WillReturnRows(orderRows("order-1", "ORD-20260826-0001", "pending"))

	order, err := repo.GetByID(context.Background(), "order-1")

	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, "ORD-20260826-0001", order.OrderNumber)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderGetByID_NotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)

	mock.ExpectQuery("SELECT .* FROM `orders` WHERE id = ").
		WillReturnError(gorm.ErrRecordNotFound)

	_, err := repo.GetByID(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderGetByIDForUpdate_TakesRowLock(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)

	mock.ExpectQuery("SELECT .* FROM `orders` WHERE id = .* FOR UPDATE").
		WillReturnRows(orderRows("order-1", "ORD-20260826-0001", "pending"))

	order, err := repo.GetByIDForUpdate(context.Background(), "order-1")

	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderGetByIDForUpdate_LockWaitTimeout(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)

	// Строку держит параллельная сверка: 1205 — это retryable busy, не сбой.
	mock.ExpectQuery("SELECT .* FROM `orders` WHERE id = .* FOR UPDATE").
		WillReturnError(errors.New("Error 1205: Lock wait timeout exceeded; try restarting transaction"))

	_, err := repo.GetByIDForUpdate(context.Background(), "order-1")

	assert.ErrorIs(t, err, domain.ErrOrderBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdatePayment(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order := &domain.Order{
		ID:            "order-1",
		Status:        domain.OrderStatusConfirmed,
		PaymentStatus: domain.PaymentStatusPaid,
	}
	err := repo.UpdatePayment(context.Background(), order)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdatePayment_NotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.UpdatePayment(context.Background(), &domain.Order{ID: "missing"})

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderFindRecentPendingByAmount(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)

	mock.ExpectQuery("SELECT .* FROM `orders` WHERE total_amount = .* AND payment_status = .* AND archived_at IS NULL").
		WillReturnRows(orderRows("order-1", "ORD-20260826-0001", "pending"))

	orders, err := repo.FindRecentPendingByAmount(context.Background(), 150000, time.Now().Add(-30*time.Minute))

	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "order-1", orders[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderSetProcessingLock_DBError(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.SetProcessingLock(context.Background(), "order-1", true)

	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

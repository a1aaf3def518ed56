package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaimedStatus(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ClaimedStatus
		wantErr bool
	}{
		{name: "confirmed", raw: "confirmed", want: ClaimedConfirmed},
		{name: "paid", raw: "paid", want: ClaimedPaid},
		{name: "failed", raw: "failed", want: ClaimedFailed},
		{name: "abandoned", raw: "abandoned", want: ClaimedAbandoned},
		{name: "refunded", raw: "refunded", want: ClaimedRefunded},
		{name: "регистр и пробелы нормализуются", raw: "  CONFIRMED ", want: ClaimedConfirmed},
		{name: "неизвестный статус", raw: "exploded", wantErr: true},
		{name: "пустая строка", raw: "", wantErr: true},
		{name: "похожий, но не из списка", raw: "confirm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClaimedStatus(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownClaimedStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{PaymentStatusPending, PaymentStatusPaid, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusRefunded, true},
		{PaymentStatusPaid, PaymentStatusRefunded, true},
		// Назад дороги нет
		{PaymentStatusPaid, PaymentStatusPending, false},
		{PaymentStatusPaid, PaymentStatusFailed, false},
		{PaymentStatusPaid, PaymentStatusPaid, false},
		{PaymentStatusFailed, PaymentStatusPaid, false},
		{PaymentStatusFailed, PaymentStatusPending, false},
		{PaymentStatusRefunded, PaymentStatusPaid, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestPaymentStatus_IsTerminal(t *testing.T) {
	assert.False(t, PaymentStatusPending.IsTerminal())
	assert.False(t, PaymentStatusPaid.IsTerminal())
	assert.True(t, PaymentStatusFailed.IsTerminal())
	assert.True(t, PaymentStatusRefunded.IsTerminal())
}

func TestClaimedStatus_Targets(t *testing.T) {
	// confirmed и paid схлопываются в один целевой статус
	assert.Equal(t, PaymentStatusPaid, ClaimedConfirmed.TargetPaymentStatus())
	assert.Equal(t, PaymentStatusPaid, ClaimedPaid.TargetPaymentStatus())
	assert.Equal(t, PaymentStatusFailed, ClaimedFailed.TargetPaymentStatus())
	assert.Equal(t, PaymentStatusRefunded, ClaimedRefunded.TargetPaymentStatus())
	// abandoned оставляет заказ в ожидании оплаты
	assert.Equal(t, PaymentStatusPending, ClaimedAbandoned.TargetPaymentStatus())

	status, ok := ClaimedPaid.TargetOrderStatus()
	assert.True(t, ok)
	assert.Equal(t, OrderStatusConfirmed, status)

	_, ok = ClaimedFailed.TargetOrderStatus()
	assert.False(t, ok)
	_, ok = ClaimedRefunded.TargetOrderStatus()
	assert.False(t, ok)
}

func TestOrder_ApplyReconciliation_Paid(t *testing.T) {
	now := time.Now()
	order := &Order{
		ID:            "order-1",
		Status:        OrderStatusPending,
		PaymentStatus: PaymentStatusPending,
	}

	err := order.ApplyReconciliation(ClaimedConfirmed, "key-1", true, now)
	require.NoError(t, err)

	assert.Equal(t, PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, OrderStatusConfirmed, order.Status)
	assert.Equal(t, "key-1", order.IdempotencyKey)
	require.NotNil(t, order.PaidAt)
	assert.Equal(t, now, *order.PaidAt)
	require.NotNil(t, order.PaymentVerifiedAt)
}

func TestOrder_ApplyReconciliation_FailedKeepsLifecycle(t *testing.T) {
	order := &Order{
		Status:        OrderStatusPending,
		PaymentStatus: PaymentStatusPending,
	}

	err := order.ApplyReconciliation(ClaimedFailed, "key-2", false, time.Now())
	require.NoError(t, err)

	assert.Equal(t, PaymentStatusFailed, order.PaymentStatus)
	// failed не трогает жизненный цикл и отметки времени оплаты
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Nil(t, order.PaidAt)
	assert.Nil(t, order.PaymentVerifiedAt)
}

func TestOrder_ApplyReconciliation_RegressiveRejected(t *testing.T) {
	order := &Order{
		Status:        OrderStatusConfirmed,
		PaymentStatus: PaymentStatusPaid,
	}

	// Запоздавшее failed после paid — недопустимый откат
	err := order.ApplyReconciliation(ClaimedFailed, "key-3", true, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PaymentStatusPaid, order.PaymentStatus)
}

func TestOrder_ApplyReconciliation_PaidToRefunded(t *testing.T) {
	order := &Order{
		Status:        OrderStatusConfirmed,
		PaymentStatus: PaymentStatusPaid,
	}

	err := order.ApplyReconciliation(ClaimedRefunded, "key-4", true, time.Now())
	require.NoError(t, err)

	assert.Equal(t, PaymentStatusRefunded, order.PaymentStatus)
	// Возврат не откатывает жизненный цикл
	assert.Equal(t, OrderStatusConfirmed, order.Status)
}

func TestDeriveIdempotencyKey(t *testing.T) {
	key1 := DeriveIdempotencyKey("txn_123", PaymentStatusPaid)
	key2 := DeriveIdempotencyKey("txn_123", PaymentStatusPaid)
	key3 := DeriveIdempotencyKey("txn_123", PaymentStatusFailed)
	key4 := DeriveIdempotencyKey("txn_456", PaymentStatusPaid)

	// Детерминированность: повторная доставка даёт тот же ключ
	assert.Equal(t, key1, key2)
	// Другой целевой статус или ссылка — другой ключ
	assert.NotEqual(t, key1, key3)
	assert.NotEqual(t, key1, key4)
	// 64 hex символа SHA-256
	assert.Len(t, key1, 64)

	// confirmed и paid дают один ключ: оба ведут в paid
	confirmed := DeriveIdempotencyKey("txn_123", ClaimedConfirmed.TargetPaymentStatus())
	paid := DeriveIdempotencyKey("txn_123", ClaimedPaid.TargetPaymentStatus())
	assert.Equal(t, confirmed, paid)
}

func TestOrder_IsArchived(t *testing.T) {
	order := &Order{}
	assert.False(t, order.IsArchived())

	now := time.Now()
	order.ArchivedAt = &now
	assert.True(t, order.IsArchived())
}

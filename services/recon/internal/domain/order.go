package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// OrderStatus — статус жизненного цикла заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, ожидает подтверждения оплаты.
	OrderStatusPending OrderStatus = "pending"

	// OrderStatusConfirmed — оплата подтверждена, заказ передан в исполнение.
	OrderStatusConfirmed OrderStatus = "confirmed"

	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus — платёжный статус заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата не подтверждена.
	PaymentStatusPending PaymentStatus = "pending"

	// PaymentStatusPaid — оплата подтверждена сверкой.
	PaymentStatusPaid PaymentStatus = "paid"

	// PaymentStatusFailed — оплата не прошла.
	PaymentStatusFailed PaymentStatus = "failed"

	// PaymentStatusRefunded — по заказу оформлен возврат.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// paymentTransitions определяет допустимые переходы платёжного статуса.
// Статус движется только вперёд: единственный переход из финального
// состояния — paid → refunded (явный возврат).
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded},
	PaymentStatusPaid:    {PaymentStatusRefunded},
	// failed и refunded — терминальные состояния
}

// CanTransitionTo проверяет, допустим ли переход платёжного статуса.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для состояний, из которых нет переходов.
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

// Order — заказ: авторитетный источник статуса и платёжного статуса.
// Мутируется только движком сверки и явно аудируемым админским путём.
// Заказы не удаляются — только архивируются (ArchivedAt).
type Order struct {
	ID                string         // UUID заказа
	OrderNumber       string         // Человекочитаемый номер (уникальный)
	CustomerEmail     string         // Email покупателя (получатель уведомлений)
	TotalAmount       int64          // Сумма в минимальных единицах валюты
	Currency          string         // ISO 4217 код валюты
	Status            OrderStatus    // Жизненный цикл заказа
	PaymentStatus     PaymentStatus  // Платёжный статус (только вперёд)
	PaymentReference  string         // Текущая каноническая платёжная ссылка
	IdempotencyKey    string         // Ключ последней применённой сверки
	ProcessingLock    bool           // Зеркало кооперативной блокировки (для операторов)
	PaidAt            *time.Time     // Время подтверждения оплаты
	PaymentVerifiedAt *time.Time     // Время сверки суммы
	ArchivedAt        *time.Time     // Время архивации (nil = активен)
	CreatedAt         time.Time      // Дата создания
	UpdatedAt         time.Time      // Дата обновления
}

// IsArchived возвращает true для архивных заказов.
func (o *Order) IsArchived() bool {
	return o.ArchivedAt != nil
}

// ApplyReconciliation переводит заказ в целевой платёжный статус и
// обновляет связанные поля. Вызывается движком сверки под блокировкой
// строки заказа; допустимость перехода должна быть проверена заранее.
func (o *Order) ApplyReconciliation(claimed ClaimedStatus, idempotencyKey string, amountVerified bool, now time.Time) error {
	target := claimed.TargetPaymentStatus()
	if !o.PaymentStatus.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	o.PaymentStatus = target
	o.IdempotencyKey = idempotencyKey
	o.UpdatedAt = now

	if target == PaymentStatusPaid {
		o.PaidAt = &now
	}
	if amountVerified {
		o.PaymentVerifiedAt = &now
	}

	// Статус заказа меняется только при подтверждении оплаты;
	// failed/refunded оставляют жизненный цикл как есть.
	if newStatus, ok := claimed.TargetOrderStatus(); ok && o.Status == OrderStatusPending {
		o.Status = newStatus
	}

	return nil
}

// =============================================================================
// Заявленный статус события (строгий allow-list)
// =============================================================================

// ClaimedStatus — статус, заявленный входящим событием (вебхук, опрос, админ).
// Свободный текст никогда не приводится к типу напрямую: сначала
// ParseClaimedStatus, потом всё остальное.
type ClaimedStatus string

const (
	// ClaimedConfirmed — провайдер подтвердил оплату.
	ClaimedConfirmed ClaimedStatus = "confirmed"

	// ClaimedPaid — синоним confirmed у части провайдеров.
	ClaimedPaid ClaimedStatus = "paid"

	// ClaimedFailed — оплата не прошла.
	ClaimedFailed ClaimedStatus = "failed"

	// ClaimedAbandoned — покупатель бросил оплату; заказ остаётся pending.
	ClaimedAbandoned ClaimedStatus = "abandoned"

	// ClaimedRefunded — оформлен возврат.
	ClaimedRefunded ClaimedStatus = "refunded"
)

// ParseClaimedStatus валидирует сырой статус из внешнего события.
// Возвращает ErrUnknownClaimedStatus для значений вне allow-list —
// это ошибка валидации, до записи в БД такое событие не доходит.
func ParseClaimedStatus(raw string) (ClaimedStatus, error) {
	switch ClaimedStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ClaimedConfirmed:
		return ClaimedConfirmed, nil
	case ClaimedPaid:
		return ClaimedPaid, nil
	case ClaimedFailed:
		return ClaimedFailed, nil
	case ClaimedAbandoned:
		return ClaimedAbandoned, nil
	case ClaimedRefunded:
		return ClaimedRefunded, nil
	default:
		return "", ErrUnknownClaimedStatus
	}
}

// TargetPaymentStatus возвращает целевой платёжный статус заказа.
// confirmed и paid схлопываются в paid, abandoned оставляет pending.
func (c ClaimedStatus) TargetPaymentStatus() PaymentStatus {
	switch c {
	case ClaimedConfirmed, ClaimedPaid:
		return PaymentStatusPaid
	case ClaimedFailed:
		return PaymentStatusFailed
	case ClaimedRefunded:
		return PaymentStatusRefunded
	default:
		return PaymentStatusPending
	}
}

// TargetOrderStatus возвращает целевой статус заказа и признак того,
// что статус вообще меняется (меняется только при подтверждении оплаты).
func (c ClaimedStatus) TargetOrderStatus() (OrderStatus, bool) {
	if c == ClaimedConfirmed || c == ClaimedPaid {
		return OrderStatusConfirmed, true
	}
	return "", false
}

// TargetTransactionStatus возвращает целевой статус транзакции.
func (c ClaimedStatus) TargetTransactionStatus() TransactionStatus {
	switch c {
	case ClaimedConfirmed, ClaimedPaid:
		return TransactionStatusCompleted
	case ClaimedFailed:
		return TransactionStatusFailed
	case ClaimedRefunded:
		return TransactionStatusRefunded
	default:
		return TransactionStatusPending
	}
}

// DeriveIdempotencyKey вычисляет ключ идемпотентности сверки:
// SHA-256 от нормализованной ссылки и целевого платёжного статуса.
// Повторная доставка того же события (и confirmed, и его синоним paid)
// даёт тот же ключ и распознаётся как replay.
func DeriveIdempotencyKey(normalizedRef string, target PaymentStatus) string {
	sum := sha256.Sum256([]byte(normalizedRef + "|" + string(target)))
	return hex.EncodeToString(sum[:])
}

// Package event содержит общие типы событий о заказах.
// Используется Recon Service (публикует события после сверки) и Notifier Service
// (читает события и рассылает уведомления). Единый источник правды для формата
// события — исключает рассинхронизацию типов между сервисами.
package event

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Типы событий (Recon Service → Notifier Service)
// =============================================================================

// Type — тип события заказа.
type Type string

const (
	// TypePaymentPaid — оплата по заказу подтверждена.
	TypePaymentPaid Type = "order.payment.paid"

	// TypePaymentFailed — оплата по заказу не прошла.
	TypePaymentFailed Type = "order.payment.failed"

	// TypePaymentRefunded — по заказу оформлен возврат.
	TypePaymentRefunded Type = "order.payment.refunded"
)

// Source — источник, инициировавший изменение статуса.
type Source string

const (
	// SourceWebhook — уведомление от платёжного провайдера.
	SourceWebhook Source = "webhook"

	// SourcePoll — фоновый опрос провайдера.
	SourcePoll Source = "poll"

	// SourceAdmin — ручная корректировка оператором.
	SourceAdmin Source = "admin"
)

// ForPaymentStatus возвращает тип события для нового платёжного статуса заказа.
// Для статусов, о которых не уведомляем (pending), возвращает пустой тип.
func ForPaymentStatus(status string) Type {
	switch status {
	case "paid":
		return TypePaymentPaid
	case "failed":
		return TypePaymentFailed
	case "refunded":
		return TypePaymentRefunded
	default:
		return ""
	}
}

// =============================================================================
// Событие заказа
// =============================================================================

// OrderEvent — событие об изменении платёжного статуса заказа.
// Публикуется в Kafka после успешной сверки транзакции.
type OrderEvent struct {
	EventID       string    `json:"event_id"`        // Уникальный ID события (для дедупликации у потребителя)
	Type          Type      `json:"type"`            // Тип события
	OrderID       string    `json:"order_id"`        // ID заказа
	OrderNumber   string    `json:"order_number"`    // Человекочитаемый номер заказа
	Recipient     string    `json:"recipient"`       // Email получателя уведомления
	PaymentStatus string    `json:"payment_status"`  // Новый платёжный статус заказа
	OrderStatus   string    `json:"order_status"`    // Статус жизненного цикла заказа
	Reference     string    `json:"reference"`       // Платёжная ссылка, по которой прошла сверка
	Amount        int64     `json:"amount"`          // Сумма в минимальных единицах
	Currency      string    `json:"currency"`        // Валюта
	Source        Source    `json:"source"`          // Кто инициировал изменение
	Actor         string    `json:"actor,omitempty"` // Оператор (только для source=admin)
	OccurredAt    time.Time `json:"occurred_at"`     // Время сверки
}

// ToJSON сериализует событие в JSON.
func (e *OrderEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON десериализует событие из JSON.
func FromJSON(data []byte) (*OrderEvent, error) {
	var ev OrderEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// IsRefund возвращает true для событий возврата.
func (e *OrderEvent) IsRefund() bool {
	return e.Type == TypePaymentRefunded
}

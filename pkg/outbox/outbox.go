// Package outbox реализует Outbox Pattern для гарантированной доставки событий в Kafka.
// Recon Service в одной транзакции со сверкой пишет бизнес-данные + запись в outbox.
// Отдельный OutboxWorker читает outbox и отправляет события в Kafka.
// Так уведомление о смене статуса заказа не теряется и не уходит дважды при откате.
package outbox

import "time"

// Outbox — запись в таблице outbox для гарантированной доставки в Kafka.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // Тип агрегата (order)
	AggregateID   string            // ID агрегата (order_id)
	EventType     string            // Тип события (order.payment.paid / order.payment.refunded)
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ сообщения (для партиционирования)
	Payload       []byte            // JSON payload
	Headers       map[string]string // Headers для Kafka (trace_id, correlation_id)
	CreatedAt     time.Time         // Время создания
	ProcessedAt   *time.Time        // Время обработки (nil = не обработана)
	RetryCount    int               // Количество попыток отправки
	LastError     *string           // Последняя ошибка
}

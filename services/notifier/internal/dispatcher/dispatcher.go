// Package dispatcher читает события заказов из Kafka и рассылает уведомления.
package dispatcher

import (
	"context"
	"fmt"

	"example.com/payment-recon/pkg/event"
	"example.com/payment-recon/pkg/kafka"
	"example.com/payment-recon/pkg/logger"
)

// maxRetries — число повторов обработки сообщения до отправки в DLQ.
const maxRetries = 3

// Sender доставляет уведомление получателю.
// Реализация по умолчанию пишет в лог; интеграция с email/SMS
// подключается заменой реализации.
type Sender interface {
	Send(ctx context.Context, ev *event.OrderEvent) error
}

// LogSender — поставляемая реализация Sender: пишет уведомление в лог.
type LogSender struct{}

// Send логирует уведомление. Возвраты получают свой текст:
// у реального отправителя для них отдельный шаблон письма.
func (LogSender) Send(ctx context.Context, ev *event.OrderEvent) error {
	msg := "Уведомление об оплате отправлено"
	if ev.IsRefund() {
		msg = "Уведомление о возврате отправлено"
	}

	logger.Ctx(ctx).Info().
		Str("event_id", ev.EventID).
		Str("type", string(ev.Type)).
		Str("order_number", ev.OrderNumber).
		Str("recipient", ev.Recipient).
		Str("payment_status", ev.PaymentStatus).
		Int64("amount", ev.Amount).
		Str("currency", ev.Currency).
		Msg(msg)
	return nil
}

// Dispatcher — потребитель recon.order-events.
type Dispatcher struct {
	consumer *kafka.Consumer
	sender   Sender
}

// New создаёт диспетчер уведомлений.
func New(consumer *kafka.Consumer, sender Sender) *Dispatcher {
	return &Dispatcher{
		consumer: consumer,
		sender:   sender,
	}
}

// Run читает события до отмены контекста.
// Битый JSON логируется и пропускается: повторная доставка его не
// исправит, а зацикливание consumer group хуже потерянного уведомления.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.consumer.ConsumeWithRetry(ctx, d.handle, maxRetries)
}

// handle обрабатывает одно сообщение.
func (d *Dispatcher) handle(ctx context.Context, msg *kafka.Message) error {
	log := logger.FromContext(ctx)

	ev, err := event.FromJSON(msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("key", string(msg.Key)).
			Int64("offset", msg.Offset).
			Msg("Битое событие пропущено")
		return nil
	}

	if ev.Type == "" || ev.Recipient == "" {
		log.Warn().
			Str("event_id", ev.EventID).
			Str("order_id", ev.OrderID).
			Msg("Событие без типа или получателя пропущено")
		return nil
	}

	if err := d.sender.Send(ctx, ev); err != nil {
		return fmt.Errorf("ошибка отправки уведомления: %w", err)
	}

	return nil
}

// Close закрывает consumer.
func (d *Dispatcher) Close() error {
	return d.consumer.Close()
}

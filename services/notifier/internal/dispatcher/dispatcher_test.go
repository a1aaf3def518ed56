package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-recon/pkg/event"
	"example.com/payment-recon/pkg/kafka"
)

// mockSender собирает отправленные уведомления.
type mockSender struct {
	mu      sync.Mutex
	sent    []*event.OrderEvent
	sendErr error
}

func (m *mockSender) Send(ctx context.Context, ev *event.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, ev)
	return nil
}

func validEvent() *event.OrderEvent {
	return &event.OrderEvent{
		EventID:       "evt-001",
		Type:          event.TypePaymentPaid,
		OrderID:       "order-1",
		OrderNumber:   "ORD-20260826-0001",
		Recipient:     "buyer@example.com",
		PaymentStatus: "paid",
		OrderStatus:   "confirmed",
		Reference:     "transaction_1755800000000_9f3c2d41ab07e516",
		Amount:        150000,
		Currency:      "RUB",
		Source:        event.SourceWebhook,
		OccurredAt:    time.Now(),
	}
}

func messageFor(t *testing.T, ev *event.OrderEvent) *kafka.Message {
	t.Helper()

	payload, err := ev.ToJSON()
	require.NoError(t, err)
	return &kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: payload,
		Topic: kafka.TopicOrderEvents,
	}
}

func TestHandle_SendsNotification(t *testing.T) {
	sender := &mockSender{}
	d := &Dispatcher{sender: sender}

	ev := validEvent()
	err := d.handle(context.Background(), messageFor(t, ev))

	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, ev.EventID, sender.sent[0].EventID)
	assert.Equal(t, ev.Recipient, sender.sent[0].Recipient)
	assert.Equal(t, ev.Type, sender.sent[0].Type)
}

func TestHandle_SkipsMalformedJSON(t *testing.T) {
	sender := &mockSender{}
	d := &Dispatcher{sender: sender}

	// Битый JSON пропускается без ошибки: передоставка его не исправит.
	err := d.handle(context.Background(), &kafka.Message{
		Key:   []byte("order-1"),
		Value: []byte(`{"event_id": "evt-001", "type":`),
	})

	assert.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestHandle_SkipsIncompleteEvent(t *testing.T) {
	sender := &mockSender{}
	d := &Dispatcher{sender: sender}

	tests := []struct {
		name   string
		mutate func(ev *event.OrderEvent)
	}{
		{name: "без типа", mutate: func(ev *event.OrderEvent) { ev.Type = "" }},
		{name: "без получателя", mutate: func(ev *event.OrderEvent) { ev.Recipient = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(ev)

			err := d.handle(context.Background(), messageFor(t, ev))
			assert.NoError(t, err)
		})
	}

	assert.Empty(t, sender.sent)
}

func TestHandle_SendErrorTriggersRetry(t *testing.T) {
	sender := &mockSender{sendErr: errors.New("smtp: connection refused")}
	d := &Dispatcher{sender: sender}

	// Ошибка отправки возвращается наружу: consumer повторит и
	// после исчерпания попыток отправит сообщение в DLQ.
	err := d.handle(context.Background(), messageFor(t, validEvent()))
	assert.Error(t, err)
}

func TestLogSender_Send(t *testing.T) {
	err := LogSender{}.Send(context.Background(), validEvent())
	assert.NoError(t, err)

	// Событие возврата идёт через отдельную ветку шаблона
	refund := validEvent()
	refund.Type = event.TypePaymentRefunded
	refund.PaymentStatus = "refunded"
	require.True(t, refund.IsRefund())

	err = LogSender{}.Send(context.Background(), refund)
	assert.NoError(t, err)
}

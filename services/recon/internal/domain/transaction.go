package domain

import "time"

// TransactionStatus — статус попытки оплаты.
type TransactionStatus string

const (
	// TransactionStatusPending — попытка создана, исход неизвестен.
	TransactionStatusPending TransactionStatus = "pending"

	// TransactionStatusCompleted — провайдер подтвердил списание.
	TransactionStatusCompleted TransactionStatus = "completed"

	// TransactionStatusFailed — попытка не прошла.
	TransactionStatusFailed TransactionStatus = "failed"

	// TransactionStatusRefunded — по транзакции оформлен возврат.
	TransactionStatusRefunded TransactionStatus = "refunded"

	// TransactionStatusOrphaned — заказ по ссылке не нашёлся.
	// Такие транзакции не удаляются: их разбирает оператор вручную.
	TransactionStatusOrphaned TransactionStatus = "orphaned"
)

// transactionTransitions определяет допустимые переходы статуса транзакции.
// Из orphaned возможен любой исход: при ручной привязке заказа сирота
// "оживает" и доигрывает обычный жизненный цикл.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:   {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusRefunded},
	TransactionStatusCompleted: {TransactionStatusRefunded},
	TransactionStatusOrphaned: {
		TransactionStatusPending,
		TransactionStatusCompleted,
		TransactionStatusFailed,
		TransactionStatusRefunded,
	},
	// failed и refunded — терминальные состояния
}

// CanTransitionTo проверяет, допустим ли переход статуса транзакции.
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transaction — одна попытка оплаты. Создаётся при первом появлении
// ссылки (интент, вебхук или опрос) и обновляется — никогда не
// заменяется — при каждом последующем появлении той же ссылки.
type Transaction struct {
	ID                string            // UUID транзакции
	Reference         string            // Внутренняя каноническая ссылка
	ProviderReference string            // Ссылка провайдера как получена (глобально уникальна)
	OrderID           *string           // Заказ (nil, пока заказ не распознан)
	Amount            int64             // Сумма в минимальных единицах
	Currency          string            // ISO 4217 код валюты
	Status            TransactionStatus // Текущий статус
	RawPayload        []byte            // Сырой JSON провайдера (последнее появление)
	IdempotencyKey    *string           // Клиентский ключ идемпотентности (уникален, когда задан)
	WebhookEventID    *string           // ID события провайдера (последнее появление)
	CreatedAt         time.Time         // Первое появление
	UpdatedAt         time.Time         // Последнее появление
}

// TransitionTo выполняет переход статуса транзакции.
func (t *Transaction) TransitionTo(target TransactionStatus) error {
	if !t.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	t.Status = target
	t.UpdatedAt = time.Now()
	return nil
}

// IsOrphaned возвращает true для транзакций без распознанного заказа.
func (t *Transaction) IsOrphaned() bool {
	return t.Status == TransactionStatusOrphaned
}

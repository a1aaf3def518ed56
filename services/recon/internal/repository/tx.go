package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"example.com/payment-recon/pkg/outbox"
)

// Stores — репозитории, привязанные к одной транзакции БД.
// Всё, что движок сверки пишет за один переход (заказ, транзакция,
// outbox, аудит), коммитится или откатывается вместе.
type Stores struct {
	Orders       OrderRepository
	Transactions TransactionRepository
	Outbox       outbox.OutboxRepository
	Audit        AuditRepository
}

// TxRunner выполняет функцию внутри транзакции БД.
// Интерфейс закрывает gorm от сервисного слоя и позволяет в тестах
// подменить транзакцию на мьютекс с in-memory хранилищами.
type TxRunner interface {
	// InTx открывает транзакцию и вызывает fn с транзакционными Stores.
	// Ошибка fn откатывает транзакцию целиком.
	// lockWait > 0 ограничивает ожидание блокировок строк в этой сессии.
	InTx(ctx context.Context, lockWait time.Duration, fn func(s Stores) error) error
}

// txRunner — GORM реализация TxRunner.
type txRunner struct {
	db     *gorm.DB
	stores Stores
}

// NewTxRunner создаёт исполнителя транзакций сверки.
// aggregateType — тип агрегата для outbox-записей ("order").
func NewTxRunner(db *gorm.DB, aggregateType string) TxRunner {
	return &txRunner{
		db: db,
		stores: Stores{
			Orders:       NewOrderRepository(db),
			Transactions: NewTransactionRepository(db),
			Outbox:       outbox.NewOutboxRepository(db, aggregateType),
			Audit:        NewAuditRepository(db),
		},
	}
}

// InTx выполняет fn внутри транзакции.
func (r *txRunner) InTx(ctx context.Context, lockWait time.Duration, fn func(s Stores) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if lockWait > 0 {
			// Таймаут ожидания SELECT ... FOR UPDATE. Переменная сессионная,
			// все транзакции сверки используют одно и то же значение.
			seconds := int(lockWait.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			if err := tx.Exec("SET innodb_lock_wait_timeout = ?", seconds).Error; err != nil {
				return err
			}
		}

		return fn(Stores{
			Orders:       r.stores.Orders.WithTx(tx),
			Transactions: r.stores.Transactions.WithTx(tx),
			Outbox:       r.stores.Outbox.WithTx(tx),
			Audit:        r.stores.Audit.WithTx(tx),
		})
	})
}

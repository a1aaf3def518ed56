package service

import (
	"context"
	"fmt"
	"strings"

	"example.com/payment-recon/pkg/config"
	"example.com/payment-recon/pkg/event"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/pkg/reference"
	"example.com/payment-recon/services/recon/internal/domain"
	"example.com/payment-recon/services/recon/internal/guard"
	"example.com/payment-recon/services/recon/internal/repository"
)

// OrderDetails — заказ со связанными транзакциями и аудитом для оператора.
type OrderDetails struct {
	Order        *domain.Order
	Transactions []*domain.Transaction
	Audit        []*domain.AuditRecord
	LockHolder   string // Сессия держателя кооперативной блокировки ("" = свободен)
}

// AdminService — привилегированные операции операторов.
// Ручная корректировка обходит валидацию шлюза, но идёт через тот же
// Concurrency Guard и тот же движок сверки, с обязательным аудитом.
type AdminService interface {
	// OverridePaymentStatus вручную меняет платёжный статус заказа.
	// Причина обязательна; операция аудируется в транзакции сверки.
	OverridePaymentStatus(ctx context.Context, orderID, operatorID, status, reason string) (*ReconcileResult, error)

	// LockOrder берёт кооперативную блокировку заказа для оператора.
	LockOrder(ctx context.Context, orderID, operatorID string) (bool, error)

	// UnlockOrder снимает кооперативную блокировку (только держатель).
	UnlockOrder(ctx context.Context, orderID, operatorID string) error

	// GetOrder возвращает заказ с транзакциями и аудитом.
	GetOrder(ctx context.Context, orderID string) (*OrderDetails, error)

	// ListOrphaned возвращает страницу транзакций-сирот для разбора.
	ListOrphaned(ctx context.Context, limit, offset int) ([]*domain.Transaction, int64, error)

	// LinkOrphan привязывает транзакцию-сироту к заказу (разбор оператором).
	LinkOrphan(ctx context.Context, txID, orderID, operatorID string) error
}

// adminService — реализация AdminService.
type adminService struct {
	orders repository.OrderRepository
	txns   repository.TransactionRepository
	audit  repository.AuditRepository
	locks  guard.AdvisoryLock
	recon  ReconService
	cfg    config.ReconConfig
}

// NewAdminService создаёт сервис админских операций.
func NewAdminService(
	orders repository.OrderRepository,
	txns repository.TransactionRepository,
	audit repository.AuditRepository,
	locks guard.AdvisoryLock,
	recon ReconService,
	cfg config.ReconConfig,
) AdminService {
	return &adminService{
		orders: orders,
		txns:   txns,
		audit:  audit,
		locks:  locks,
		recon:  recon,
		cfg:    cfg,
	}
}

// OverridePaymentStatus вручную меняет платёжный статус заказа.
func (s *adminService) OverridePaymentStatus(ctx context.Context, orderID, operatorID, status, reason string) (*ReconcileResult, error) {
	log := logger.Ctx(ctx)

	if strings.TrimSpace(reason) == "" {
		return nil, domain.ErrReasonRequired
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Кооперативная блокировка на время операции: проходящая сверка от
	// шлюза увидит держателя и отступит, а не сыграет вперемешку с нами.
	acquired, err := s.locks.Acquire(ctx, orderID, operatorID, s.cfg.AdvisoryLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, domain.ErrOrderBusy
	}
	defer func() {
		if _, err := s.locks.Release(ctx, orderID, operatorID); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("Не удалось снять кооперативную блокировку после корректировки")
		}
	}()

	// У заказа без единой попытки оплаты ссылки ещё нет — корректировка
	// создаёт административную ссылку, чтобы переход был прослеживаем.
	ref := order.PaymentReference
	if ref == "" {
		ref, err = reference.Generate(reference.KindTransaction)
		if err != nil {
			return nil, fmt.Errorf("ошибка генерации административной ссылки: %w", err)
		}
		if err := s.orders.SetPaymentReference(ctx, orderID, ref); err != nil {
			return nil, err
		}
	}

	result, err := s.recon.Reconcile(ctx, ReconcileRequest{
		PaymentRef:      ref,
		ClaimedStatus:   status,
		Source:          event.SourceAdmin,
		Actor:           operatorID,
		OrderID:         orderID,
		Reason:          reason,
		SkipAmountCheck: true,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", orderID).
		Str("operator_id", operatorID).
		Str("claimed_status", status).
		Str("outcome", string(result.Outcome)).
		Msg("Ручная корректировка платёжного статуса выполнена")

	return result, nil
}

// LockOrder берёт кооперативную блокировку заказа.
func (s *adminService) LockOrder(ctx context.Context, orderID, operatorID string) (bool, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return false, err
	}

	acquired, err := s.locks.Acquire(ctx, orderID, operatorID, s.cfg.AdvisoryLockTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	// Зеркало в БД — для операторов, смотрящих на заказ через SQL.
	if err := s.orders.SetProcessingLock(ctx, orderID, true); err != nil {
		return true, err
	}

	return true, s.audit.Create(ctx, &domain.AuditRecord{
		Actor:   operatorID,
		Action:  domain.ActionOrderLock,
		OrderID: orderID,
	})
}

// UnlockOrder снимает кооперативную блокировку заказа.
func (s *adminService) UnlockOrder(ctx context.Context, orderID, operatorID string) error {
	released, err := s.locks.Release(ctx, orderID, operatorID)
	if err != nil {
		return err
	}
	if !released {
		return domain.ErrLockNotHeld
	}

	if err := s.orders.SetProcessingLock(ctx, orderID, false); err != nil {
		return err
	}

	return s.audit.Create(ctx, &domain.AuditRecord{
		Actor:   operatorID,
		Action:  domain.ActionOrderUnlock,
		OrderID: orderID,
	})
}

// GetOrder возвращает заказ с транзакциями и аудитом.
func (s *adminService) GetOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	txns, err := s.txns.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	audit, err := s.audit.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	holder, err := s.locks.Holder(ctx, orderID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Не удалось прочитать держателя блокировки")
	}

	return &OrderDetails{
		Order:        order,
		Transactions: txns,
		Audit:        audit,
		LockHolder:   holder,
	}, nil
}

// ListOrphaned возвращает страницу транзакций-сирот.
func (s *adminService) ListOrphaned(ctx context.Context, limit, offset int) ([]*domain.Transaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.txns.ListOrphaned(ctx, limit, offset)
}

// LinkOrphan привязывает транзакцию-сироту к заказу.
// Сама сверка не выполняется: оператор после привязки запускает
// корректировку или ждёт следующего цикла опроса.
func (s *adminService) LinkOrphan(ctx context.Context, txID, orderID, operatorID string) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	txn, err := s.txns.GetByID(ctx, txID)
	if err != nil {
		return err
	}

	// Ручная привязка не обходит сверку сумм: сирота с чужой суммой —
	// скорее всего чужой платёж, а не потерянная ссылка.
	if diff := txn.Amount - order.TotalAmount; diff > s.cfg.AmountTolerance || diff < -s.cfg.AmountTolerance {
		logger.Ctx(ctx).Warn().
			Str("transaction_id", txID).
			Str("order_id", orderID).
			Int64("transaction_amount", txn.Amount).
			Int64("order_amount", order.TotalAmount).
			Msg("Привязка сироты отклонена: расхождение сумм")
		return domain.ErrAmountMismatch
	}

	if err := s.txns.LinkOrder(ctx, txID, orderID); err != nil {
		return err
	}

	return s.audit.Create(ctx, &domain.AuditRecord{
		Actor:   operatorID,
		Action:  domain.ActionOrphanLinked,
		OrderID: orderID,
		Reason:  "транзакция привязана к заказу вручную",
	})
}

package domain

import "time"

// AuditAction — тип аудируемого действия.
type AuditAction string

const (
	// ActionAdminOverride — ручная корректировка платёжного статуса оператором.
	ActionAdminOverride AuditAction = "admin_override"

	// ActionHeuristicMatch — заказ подобран эвристикой по сумме и окну времени.
	ActionHeuristicMatch AuditAction = "heuristic_match"

	// ActionOrderLock — оператор взял кооперативную блокировку заказа.
	ActionOrderLock AuditAction = "order_lock"

	// ActionOrderUnlock — оператор снял кооперативную блокировку заказа.
	ActionOrderUnlock AuditAction = "order_unlock"

	// ActionOrphanLinked — оператор вручную привязал сироту к заказу.
	ActionOrphanLinked AuditAction = "orphan_linked"

	// ActionOperatorCreated — создан новый оператор.
	ActionOperatorCreated AuditAction = "operator_created"
)

// ActorSystem — актор для действий, выполненных самим сервисом.
const ActorSystem = "system"

// AuditRecord — запись аудита. Пишется в одной транзакции со сверкой
// для ручных корректировок и эвристических совпадений, напрямую —
// для управления блокировками и операторами.
type AuditRecord struct {
	ID             string      // UUID записи
	Actor          string      // ID оператора или "system"
	Action         AuditAction // Тип действия
	OrderID        string      // Заказ (может быть пустым)
	Reference      string      // Платёжная ссылка (может быть пустой)
	PreviousStatus string      // Статус до действия
	NewStatus      string      // Статус после действия
	Reason         string      // Причина (обязательна для admin_override)
	Detail         []byte      // Произвольные детали в JSON
	CreatedAt      time.Time   // Время действия
}

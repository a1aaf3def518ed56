// Package domain содержит бизнес-сущности и доменные ошибки Recon Service.
package domain

import "errors"

// Доменные ошибки Recon Service.
var (
	// ErrOrderNotFound — заказ не найден.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrTransactionNotFound — транзакция не найдена.
	ErrTransactionNotFound = errors.New("транзакция не найдена")

	// ErrEmptyReference — пустая платёжная ссылка во входящем событии.
	ErrEmptyReference = errors.New("платёжная ссылка не указана")

	// ErrUnknownClaimedStatus — заявленный статус вне допустимого списка.
	// Проверяется до любого приведения типов и до любых записей в БД.
	ErrUnknownClaimedStatus = errors.New("неизвестный заявленный статус платежа")

	// ErrInvalidTransition — недопустимый переход состояния.
	ErrInvalidTransition = errors.New("недопустимый переход состояния")

	// ErrAmountMismatch — сумма события расходится с суммой заказа сверх допуска.
	ErrAmountMismatch = errors.New("сумма платежа не совпадает с суммой заказа")

	// ErrOrderBusy — заказ обрабатывается другим вызовом (блокировка строки
	// или кооперативная блокировка). Вызывающий код повторяет позже.
	ErrOrderBusy = errors.New("заказ обрабатывается, повторите позже")

	// ErrOrderArchived — заказ в архиве, сверка по нему не выполняется.
	ErrOrderArchived = errors.New("заказ находится в архиве")

	// ErrOrderNotPayable — заказ не ожидает оплаты (интент создать нельзя).
	ErrOrderNotPayable = errors.New("заказ не ожидает оплаты")

	// ErrReasonRequired — ручная корректировка без указания причины.
	ErrReasonRequired = errors.New("для ручной корректировки обязательна причина")

	// ErrLockNotHeld — попытка снять кооперативную блокировку не её держателем.
	ErrLockNotHeld = errors.New("блокировка не принадлежит вызывающему")

	// ErrOperatorNotFound — оператор не найден.
	ErrOperatorNotFound = errors.New("оператор не найден")

	// ErrOperatorExists — оператор с таким email уже существует.
	ErrOperatorExists = errors.New("оператор с таким email уже существует")

	// ErrInvalidCredentials — неверный email или пароль оператора.
	ErrInvalidCredentials = errors.New("неверный email или пароль")

	// ErrLoginLocked — превышен лимит неудачных попыток входа.
	ErrLoginLocked = errors.New("аккаунт временно заблокирован из-за превышения попыток входа")
)

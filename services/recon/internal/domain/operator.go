package domain

import (
	"errors"
	"strings"
	"time"
)

// OperatorRole — роль оператора.
type OperatorRole string

const (
	// RoleAdmin — полный доступ: корректировки, блокировки, создание операторов.
	RoleAdmin OperatorRole = "admin"

	// RoleSupport — только чтение: просмотр заказов и сирот.
	RoleSupport OperatorRole = "support"
)

// Valid возвращает true для известной роли.
func (r OperatorRole) Valid() bool {
	return r == RoleAdmin || r == RoleSupport
}

// Operator — учётная запись оператора админского API.
// Первый оператор заводится вне сервиса (явный provisioning-шаг),
// остальных создают администраторы через API.
type Operator struct {
	ID           string       // UUID оператора
	Name         string       // Имя
	Email        string       // Email (уникальный, идентичность для входа)
	PasswordHash string       // bcrypt хэш пароля
	Role         OperatorRole // Роль
	CreatedAt    time.Time    // Дата создания
	UpdatedAt    time.Time    // Дата обновления
}

// Validate проверяет корректность полей оператора.
func (o *Operator) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("имя оператора обязательно")
	}
	if strings.TrimSpace(o.Email) == "" {
		return errors.New("email оператора обязателен")
	}
	if !o.Role.Valid() {
		return errors.New("неизвестная роль оператора")
	}
	return nil
}

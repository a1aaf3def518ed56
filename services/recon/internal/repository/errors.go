// Package repository содержит реализацию доступа к данным Recon Service.
package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isDuplicateKeyError проверяет, является ли ошибка нарушением уникального индекса.
// Нарушение уникальности — штатный механизм схлопывания гонок
// (вебхук и опрос вставляют одну транзакцию одновременно), не фатальная ошибка.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}

// isLockWaitTimeout проверяет, истёк ли таймаут ожидания блокировки строки.
// MySQL возвращает ошибку 1205; для вызывающего это retryable "busy", не сбой.
func isLockWaitTimeout(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "Lock wait timeout") ||
		strings.Contains(errMsg, "1205")
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// loginAttemptsPrefix — префикс ключа Redis для счётчика попыток входа.
	loginAttemptsPrefix = "recon:login_attempts:"

	// maxLoginAttempts — максимум неудачных попыток до блокировки.
	maxLoginAttempts = 5

	// lockoutDuration — время блокировки входа после превышения лимита.
	lockoutDuration = 15 * time.Minute
)

// LoginLimiter ограничивает количество неудачных попыток входа оператора.
// Интерфейс позволяет мокать в тестах без Redis.
type LoginLimiter interface {
	// IsLocked проверяет, заблокирован ли вход по email.
	IsLocked(ctx context.Context, email string) (bool, error)

	// RecordFailure увеличивает счётчик неудачных попыток.
	RecordFailure(ctx context.Context, email string) error

	// ResetAttempts сбрасывает счётчик после успешного входа.
	ResetAttempts(ctx context.Context, email string) error
}

// redisLoginLimiter — реализация LoginLimiter на Redis.
type redisLoginLimiter struct {
	rdb *redis.Client
}

// NewLoginLimiter создаёт LoginLimiter на базе Redis.
func NewLoginLimiter(rdb *redis.Client) LoginLimiter {
	return &redisLoginLimiter{rdb: rdb}
}

// IsLocked проверяет, превышен ли лимит попыток входа.
func (l *redisLoginLimiter) IsLocked(ctx context.Context, email string) (bool, error) {
	key := loginAttemptsPrefix + email
	val, err := l.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки блокировки входа: %w", err)
	}
	return val >= maxLoginAttempts, nil
}

// incrWithTTLScript — атомарный INCR + EXPIRE.
// Без скрипта падение процесса между INCR и EXPIRE оставило бы ключ
// без TTL, и оператор остался бы заблокирован навечно.
var incrWithTTLScript = redis.NewScript(`
local val = redis.call('INCR', KEYS[1])
if val == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return val
`)

// RecordFailure атомарно увеличивает счётчик и устанавливает TTL.
func (l *redisLoginLimiter) RecordFailure(ctx context.Context, email string) error {
	key := loginAttemptsPrefix + email

	if _, err := incrWithTTLScript.Run(ctx, l.rdb, []string{key}, int(lockoutDuration.Seconds())).Result(); err != nil {
		return fmt.Errorf("ошибка учёта неудачной попытки входа: %w", err)
	}
	return nil
}

// ResetAttempts удаляет счётчик после успешного входа.
func (l *redisLoginLimiter) ResetAttempts(ctx context.Context, email string) error {
	if err := l.rdb.Del(ctx, loginAttemptsPrefix+email).Err(); err != nil {
		return fmt.Errorf("ошибка сброса счётчика попыток входа: %w", err)
	}
	return nil
}

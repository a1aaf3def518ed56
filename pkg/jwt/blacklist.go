// Package jwt — blacklist для отзыва JWT токенов через Redis.
package jwt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Префиксы ключей Redis
const (
	prefixToken    = "jwt:blacklist:"   // jwt:blacklist:{jti}
	prefixOperator = "jwt:invalidated:" // jwt:invalidated:{operatorID}
)

// Blacklist управляет отозванными токенами в Redis.
type Blacklist struct {
	redis *redis.Client
}

// NewBlacklist создаёт новый blacklist.
func NewBlacklist(client *redis.Client) *Blacklist {
	return &Blacklist{redis: client}
}

// Add добавляет токен в blacklist.
// TTL ключа = время до истечения токена (автоочистка).
func (b *Blacklist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil // Токен уже истёк, нет смысла добавлять
	}

	if err := b.redis.Set(ctx, prefixToken+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("ошибка добавления токена в blacklist: %w", err)
	}
	return nil
}

// Check проверяет, находится ли токен в blacklist.
func (b *Blacklist) Check(ctx context.Context, jti string) (bool, error) {
	exists, err := b.redis.Exists(ctx, prefixToken+jti).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки blacklist: %w", err)
	}
	return exists > 0, nil
}

// InvalidateOperator отзывает ВСЕ токены оператора, выданные до текущего момента.
// Используется при: смене пароля, деактивации учётной записи, "выйти со всех устройств".
func (b *Blacklist) InvalidateOperator(ctx context.Context, operatorID string, refreshTTL time.Duration) error {
	// Сохраняем timestamp инвалидации. Все токены с iat < этого времени невалидны.
	// TTL = время жизни refresh token (самый долгоживущий)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	if err := b.redis.Set(ctx, prefixOperator+operatorID, timestamp, refreshTTL).Err(); err != nil {
		return fmt.Errorf("ошибка инвалидации токенов оператора: %w", err)
	}
	return nil
}

// IsOperatorInvalidated проверяет, был ли токен выдан до инвалидации оператора.
// Возвращает true, если токен отозван (iat < timestamp инвалидации).
func (b *Blacklist) IsOperatorInvalidated(ctx context.Context, operatorID string, issuedAt time.Time) (bool, error) {
	val, err := b.redis.Get(ctx, prefixOperator+operatorID).Result()
	if err == redis.Nil {
		return false, nil // Нет записи — оператор не инвалидирован
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки инвалидации оператора: %w", err)
	}

	invalidatedAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("ошибка парсинга timestamp инвалидации: %w", err)
	}

	// Токен выдан ДО инвалидации — значит отозван
	return issuedAt.Unix() < invalidatedAt, nil
}

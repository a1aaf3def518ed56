// Package guard содержит Concurrency Guard: лимиты частоты по идентичности
// и кооперативные блокировки заказов. Оба механизма живут в Redis и
// разделяются всеми путями приёма событий (вебхук, опрос, админ).
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"example.com/payment-recon/pkg/logger"
)

// rateLimitKeyPrefix — префикс ключей счётчиков в Redis.
const rateLimitKeyPrefix = "recon:rate:"

// Result — результат проверки лимита частоты.
// Превышение лимита — штатный результат, не ошибка: вызывающий код
// отвечает "allowed=false, retry_after" и даёт клиенту отступить.
type Result struct {
	Allowed    bool          // Разрешён ли запрос
	Remaining  int           // Сколько запросов осталось в окне
	RetryAfter time.Duration // Через сколько можно повторить (при Allowed=false)
}

// RateLimiter ограничивает частоту операций по идентичности
// (email покупателя, IP клиента, сессия оператора).
type RateLimiter interface {
	// Check учитывает запрос и возвращает решение для скользящего окна.
	Check(ctx context.Context, identity, operation string, max int, window time.Duration) (Result, error)
}

// redisRateLimiter — реализация RateLimiter на Redis sorted set.
type redisRateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter создаёт лимитер на базе Redis.
func NewRateLimiter(rdb *redis.Client) RateLimiter {
	return &redisRateLimiter{rdb: rdb}
}

// slidingWindowScript — атомарный скользящий лог запросов.
// Sorted set хранит отметки времени запросов; просроченные вычищаются,
// решение и добавление новой отметки происходят в одном скрипте —
// конкурентные проверки не могут обе пройти на последнем слоте.
// Возвращает {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

if count < max then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return {1, max - count - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
    if retry < 1 then
        retry = 1
    end
end
return {0, 0, retry}
`)

// Check учитывает запрос в скользящем окне.
// При недоступности Redis лимитер пропускает запрос (fail-open):
// доступность сервиса важнее троттлинга, ошибка логируется.
func (l *redisRateLimiter) Check(ctx context.Context, identity, operation string, max int, window time.Duration) (Result, error) {
	key := fmt.Sprintf("%s%s:%s", rateLimitKeyPrefix, operation, identity)
	now := time.Now().UnixMilli()

	vals, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{key},
		now,
		window.Milliseconds(),
		max,
		fmt.Sprintf("%d:%s", now, uuid.New().String()),
	).Int64Slice()
	if err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("operation", operation).
			Msg("Ошибка Redis при проверке лимита частоты, запрос пропущен")
		return Result{Allowed: true, Remaining: max}, nil
	}

	result := Result{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
	}
	if !result.Allowed {
		result.RetryAfter = time.Duration(vals[2]) * time.Millisecond
	}

	return result, nil
}

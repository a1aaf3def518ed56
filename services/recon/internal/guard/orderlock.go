package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// orderLockKeyPrefix — префикс ключей кооперативных блокировок заказов.
const orderLockKeyPrefix = "recon:orderlock:"

// AdvisoryLock — кооперативная блокировка заказа.
// Не заменяет блокировку строки: админские операции берут её, чтобы не
// гоняться с проходящей сверкой от шлюза, а движок сверки перед работой
// проверяет держателя. TTL страхует от упавшего держателя.
type AdvisoryLock interface {
	// Acquire берёт блокировку заказа для сессии. false — уже занята другим.
	Acquire(ctx context.Context, orderID, session string, ttl time.Duration) (bool, error)

	// Release снимает блокировку. Снять может только держатель;
	// false — блокировка не принадлежала сессии (или уже истекла).
	Release(ctx context.Context, orderID, session string) (bool, error)

	// Holder возвращает сессию текущего держателя, "" если блокировки нет.
	Holder(ctx context.Context, orderID string) (string, error)
}

// redisAdvisoryLock — реализация AdvisoryLock на Redis SET NX PX.
type redisAdvisoryLock struct {
	rdb *redis.Client
}

// NewAdvisoryLock создаёт кооперативную блокировку на базе Redis.
func NewAdvisoryLock(rdb *redis.Client) AdvisoryLock {
	return &redisAdvisoryLock{rdb: rdb}
}

// releaseScript — атомарное снятие блокировки держателем.
// GET и DEL в одном скрипте: нельзя случайно снять блокировку,
// которую после истечения TTL успел взять другой актор.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Acquire берёт блокировку заказа.
func (l *redisAdvisoryLock) Acquire(ctx context.Context, orderID, session string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(orderID), session, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка взятия блокировки заказа: %w", err)
	}
	return ok, nil
}

// Release снимает блокировку, если её держит сессия.
func (l *redisAdvisoryLock) Release(ctx context.Context, orderID, session string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, l.rdb, []string{lockKey(orderID)}, session).Int()
	if err != nil {
		return false, fmt.Errorf("ошибка снятия блокировки заказа: %w", err)
	}
	return deleted == 1, nil
}

// Holder возвращает текущего держателя блокировки.
func (l *redisAdvisoryLock) Holder(ctx context.Context, orderID string) (string, error) {
	holder, err := l.rdb.Get(ctx, lockKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения блокировки заказа: %w", err)
	}
	return holder, nil
}

// lockKey возвращает ключ блокировки заказа в Redis.
func lockKey(orderID string) string {
	return orderLockKeyPrefix + orderID
}

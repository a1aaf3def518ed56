package db

import (
	"github.com/redis/go-redis/v9"

	"example.com/payment-recon/pkg/config"
)

// ConnectRedis создаёт клиент Redis.
// Доступность проверяет вызывающая сторона (ping в main).
func ConnectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

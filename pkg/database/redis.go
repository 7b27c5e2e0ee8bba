package database

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis instance backing the catalog cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient returns a client without dialing. Timeouts are short so a
// slow Redis falls through to the catalog quickly.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
)

// NewRedisClient creates a Redis client, or nil when Redis is not
// configured (empty host). Callers treat a nil client as "use the
// in-memory fallback".
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

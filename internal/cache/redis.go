package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/config"
	"github.com/redis/go-redis/v9"
)

var (
	// RedisClient is the global Redis client instance
	RedisClient *redis.Client
)

const connectTimeout = 5 * time.Second

// NewClient builds a Redis client from cfg without dialing
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// ConnectRedis initializes RedisClient and verifies connectivity with a PING
func ConnectRedis(cfg *config.RedisConfig) error {
	client := NewClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	RedisClient = client
	slog.Info("Redis connected successfully", "address", cfg.Address())
	return nil
}

// Healthy reports whether the global client answers a PING
func Healthy(ctx context.Context) bool {
	if RedisClient == nil {
		return false
	}
	return RedisClient.Ping(ctx).Err() == nil
}

// CloseRedis closes the global RedisClient if it is initialized
func CloseRedis() error {
	if RedisClient == nil {
		return nil
	}
	err := RedisClient.Close()
	RedisClient = nil
	return err
}

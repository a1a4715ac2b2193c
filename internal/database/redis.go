package database

import (
	"context"
	"fmt"
	"time"

	"visaconnect-relay/internal/config"
	"visaconnect-relay/pkg/logger"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	client *redis.Client
	logger *logger.Logger
}

func NewRedisConnection(cfg config.RedisConfig, log *logger.Logger) (*RedisClient, error) {
	opts, err := redis.ParseURL(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Redis connection established successfully")

	return &RedisClient{
		client: rdb,
		logger: log,
	}, nil
}

// NewRedisClient wraps an existing client. Used by tests and tools.
func NewRedisClient(client *redis.Client, log *logger.Logger) *RedisClient {
	return &RedisClient{client: client, logger: log}
}

func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

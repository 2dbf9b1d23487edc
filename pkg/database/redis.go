package database

import (
	"context"
	"fmt"
	"time"

	"github.com/agentgraph/agentgraph-open/pkg/config"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection configuration
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	MaxIdleTime  time.Duration
}

// RedisFromConfig reads cache.redis_* keys. An empty address means the
// cache is disabled and ok is false.
func RedisFromConfig(cfg *config.Config) (RedisConfig, bool) {
	addr := cfg.Get("cache.redis_addr")
	if addr == "" {
		return RedisConfig{}, false
	}
	return RedisConfig{
		Addr:         addr,
		Password:     cfg.Get("cache.redis_password"),
		DB:           cfg.GetInt("cache.redis_db", 0),
		MaxRetries:   3,
		PoolSize:     cfg.GetInt("cache.redis_pool_size", 10),
		MinIdleConns: 2,
		MaxIdleTime:  5 * time.Minute,
	}, true
}

// Redis represents a Redis client connection pool
type Redis struct {
	client *redis.Client
}

// NewRedis creates a new Redis client using the provided configuration
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      cfg.MaxRetries,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxIdleTime: cfg.MaxIdleTime,
	})

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	return &Redis{client: client}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// Client returns the underlying Redis client
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Ping checks if the Redis connection is alive
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

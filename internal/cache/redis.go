package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
	"github.com/xiquet-ai/casteller-assistant/pkg/logger"
	"github.com/xiquet-ai/casteller-assistant/pkg/metrics"
)

const (
	keyPrefix = "chat:unsaved:"

	// snapshotTTL bounds how long an abandoned unsaved conversation
	// survives. Expiry is indistinguishable from a miss for the caller.
	snapshotTTL = 7 * 24 * time.Hour
)

// RedisCache is the Redis-backed conversation cache.
type RedisCache struct {
	client *redis.Client
	logger *logger.Logger
}

// NewRedisCache creates a cache against the given Redis address.
func NewRedisCache(addr, password string, db int, log *logger.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisCache{client: client, logger: log}
}

// NewRedisCacheFromClient wraps an existing client. Used by tests.
func NewRedisCacheFromClient(client *redis.Client, log *logger.Logger) *RedisCache {
	return &RedisCache{client: client, logger: log}
}

// Ping tests the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get returns the cached snapshot for a user.
func (c *RedisCache) Get(ctx context.Context, userID string) ([]model.Message, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOpsTotal.WithLabelValues("get", "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CacheOpsTotal.WithLabelValues("get", "error").Inc()
		return nil, false, fmt.Errorf("failed to read conversation cache: %w", err)
	}

	var msgs []model.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		// Malformed payloads are treated as a miss: the conversation
		// starts empty and the corrupt entry is dropped.
		c.logger.Warn("corrupt conversation cache entry, discarding",
			zap.String("user_id", userID), zap.Error(err))
		metrics.CacheOpsTotal.WithLabelValues("get", "corrupt").Inc()
		_ = c.client.Del(ctx, keyPrefix+userID).Err()
		return nil, false, nil
	}

	metrics.CacheOpsTotal.WithLabelValues("get", "hit").Inc()
	return msgs, true, nil
}

// Put overwrites the user's snapshot.
func (c *RedisCache) Put(ctx context.Context, userID string, msgs []model.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation snapshot: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+userID, data, snapshotTTL).Err(); err != nil {
		metrics.CacheOpsTotal.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("failed to write conversation cache: %w", err)
	}
	metrics.CacheOpsTotal.WithLabelValues("put", "ok").Inc()
	return nil
}

// Clear deletes the user's snapshot.
func (c *RedisCache) Clear(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, keyPrefix+userID).Err(); err != nil {
		metrics.CacheOpsTotal.WithLabelValues("clear", "error").Inc()
		return fmt.Errorf("failed to clear conversation cache: %w", err)
	}
	metrics.CacheOpsTotal.WithLabelValues("clear", "ok").Inc()
	return nil
}

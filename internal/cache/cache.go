// Package cache stores computed health assessments in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/commit-health/internal/health"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "health:"

// AssessmentCache keeps assessments for a short time between syncs
type AssessmentCache interface {
	Get(ctx context.Context, customerID string) (*health.Assessment, bool, error)
	Set(ctx context.Context, customerID string, a health.Assessment) error
	Invalidate(ctx context.Context, customerIDs ...string) error
}

// RedisCache implements AssessmentCache using Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache backed by Redis.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connections.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, customerID string) (*health.Assessment, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+customerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", customerID, err)
	}
	var a health.Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, fmt.Errorf("cache decode %s: %w", customerID, err)
	}
	return &a, true, nil
}

func (c *RedisCache) Set(ctx context.Context, customerID string, a health.Assessment) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", customerID, err)
	}
	if err := c.client.Set(ctx, keyPrefix+customerID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", customerID, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, customerIDs ...string) error {
	if len(customerIDs) == 0 {
		return nil
	}
	keys := make([]string, len(customerIDs))
	for i, id := range customerIDs {
		keys[i] = keyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Noop is used when Redis is not configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (*health.Assessment, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, health.Assessment) error          { return nil }
func (Noop) Invalidate(context.Context, ...string) error                   { return nil }

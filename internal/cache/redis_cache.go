package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/opscore/internal/domain"
)

type RedisRulesCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisRulesCache(client *redis.Client) *RedisRulesCache {
	return &RedisRulesCache{client: client}
}

func (c *RedisRulesCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRulesCache) Get(ctx context.Context, key string) (*domain.PricingRules, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rules domain.PricingRules
	if err := json.Unmarshal([]byte(val), &rules); err != nil {
		return nil, false, err
	}
	return &rules, true, nil
}

func (c *RedisRulesCache) Set(ctx context.Context, key string, value *domain.PricingRules, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisRulesCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dukapos/backend/internal/domain"
)

type RedisPricingRuleCache struct {
	client *redis.Client
}

func NewRedisPricingRuleCache(addr string, password string, db int) *RedisPricingRuleCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisPricingRuleCache{client: client}
}

func (c *RedisPricingRuleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPricingRuleCache) Close() error {
	return c.client.Close()
}

func (c *RedisPricingRuleCache) Get(ctx context.Context, shopID string, itemID string) (*domain.PricingRuleSet, bool, error) {
	val, err := c.client.Get(ctx, pricingKey(shopID, itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rules domain.PricingRuleSet
	if err := json.Unmarshal(val, &rules); err != nil {
		return nil, false, err
	}
	return &rules, true, nil
}

func (c *RedisPricingRuleCache) Set(ctx context.Context, shopID string, itemID string, rules *domain.PricingRuleSet, ttl time.Duration) error {
	if rules == nil {
		return nil
	}
	payload, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pricingKey(shopID, itemID), payload, ttl).Err()
}

func (c *RedisPricingRuleCache) Invalidate(ctx context.Context, shopID string, itemID string) error {
	return c.client.Del(ctx, pricingKey(shopID, itemID)).Err()
}

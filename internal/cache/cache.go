package cache

import (
	"context"
	"fmt"
	"time"

	"dukapos/backend/internal/domain"
)

// PricingRuleCache holds the override and discount rules of one (shop, item).
type PricingRuleCache interface {
	Get(ctx context.Context, shopID string, itemID string) (*domain.PricingRuleSet, bool, error)
	Set(ctx context.Context, shopID string, itemID string, rules *domain.PricingRuleSet, ttl time.Duration) error
	Invalidate(ctx context.Context, shopID string, itemID string) error
}

type NoopPricingRuleCache struct{}

func (NoopPricingRuleCache) Get(_ context.Context, _ string, _ string) (*domain.PricingRuleSet, bool, error) {
	return nil, false, nil
}

func (NoopPricingRuleCache) Set(_ context.Context, _ string, _ string, _ *domain.PricingRuleSet, _ time.Duration) error {
	return nil
}

func (NoopPricingRuleCache) Invalidate(_ context.Context, _ string, _ string) error {
	return nil
}

func pricingKey(shopID string, itemID string) string {
	return fmt.Sprintf("pricing:%s:%s", shopID, itemID)
}

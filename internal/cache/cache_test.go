package cache

import (
	"context"
	"testing"
	"time"

	"dukapos/backend/internal/domain"
)

func TestNoopCacheAlwaysMisses(t *testing.T) {
	c := NoopPricingRuleCache{}
	ctx := context.Background()

	if err := c.Set(ctx, "shop-1", "item-1", &domain.PricingRuleSet{}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	rules, hit, err := c.Get(ctx, "shop-1", "item-1")
	if err != nil || hit || rules != nil {
		t.Fatalf("expected miss, got hit=%v rules=%v err=%v", hit, rules, err)
	}
}

func TestPricingKeyIsScopedByShopAndItem(t *testing.T) {
	if pricingKey("shop-1", "item-1") == pricingKey("shop-2", "item-1") {
		t.Fatalf("keys for different shops must differ")
	}
	if got := pricingKey("shop-1", "item-1"); got != "pricing:shop-1:item-1" {
		t.Fatalf("unexpected key %q", got)
	}
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/pricing"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

func (s *Service) ListItems(ctx context.Context, activeOnly bool) ([]domain.Item, error) {
	return s.repo.ListItems(ctx, activeOnly)
}

func (s *Service) CreateItem(ctx context.Context, sess domain.Session, req domain.ItemCreateRequest) (domain.Item, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Item{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Item{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if req.SalePrice.IsNegative() || req.CostPrice.IsNegative() {
		return domain.Item{}, fmt.Errorf("%w: prices must not be negative", store.ErrInvalidInput)
	}

	now := s.now()
	created, err := s.repo.CreateItem(ctx, domain.Item{
		ID:        xid.OrNew(req.ID, "item"),
		Name:      name,
		Unit:      defaultString(req.Unit, "unit"),
		SalePrice: req.SalePrice,
		CostPrice: req.CostPrice,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, sess, sess.ShopID, "item_create", "item", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.SalePrice))
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, sess domain.Session, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Item{}, err
	}

	existing, err := s.repo.GetItem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}

	updated := *existing
	if req.SalePrice != nil {
		if req.SalePrice.IsNegative() {
			return domain.Item{}, fmt.Errorf("%w: sale_price must not be negative", store.ErrInvalidInput)
		}
		updated.SalePrice = *req.SalePrice
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			return domain.Item{}, fmt.Errorf("%w: cost_price must not be negative", store.ErrInvalidInput)
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, sess, sess.ShopID, "item_update", "item", saved.ID,
		fmt.Sprintf("price=%s->%s,active=%t", existing.SalePrice, saved.SalePrice, saved.Active))
	return *saved, nil
}

func (s *Service) ListPricingRules(ctx context.Context, sess domain.Session, itemID string, shopID string) ([]domain.ItemPricingRule, error) {
	filter, err := s.ruleFilter(sess, itemID, shopID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPricingRules(ctx, filter)
}

func (s *Service) CreatePricingRule(ctx context.Context, sess domain.Session, req domain.PricingRuleCreateRequest) (domain.ItemPricingRule, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.ItemPricingRule{}, err
	}
	shopID, err := s.resolveShop(sess, req.ShopID)
	if err != nil {
		return domain.ItemPricingRule{}, err
	}
	if _, err := s.repo.GetItem(ctx, strings.TrimSpace(req.ItemID)); err != nil {
		return domain.ItemPricingRule{}, err
	}

	now := s.now()
	rule := domain.ItemPricingRule{
		ID:            xid.OrNew(req.ID, "ipr"),
		ItemID:        strings.TrimSpace(req.ItemID),
		ShopID:        shopID,
		OverridePrice: req.OverridePrice,
		MinQuantity:   req.MinQuantity,
		MaxQuantity:   req.MaxQuantity,
		Active:        req.Active == nil || *req.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validatePricingRule(rule); err != nil {
		return domain.ItemPricingRule{}, err
	}

	created, err := s.repo.CreatePricingRule(ctx, rule)
	if err != nil {
		return domain.ItemPricingRule{}, err
	}
	s.invalidateRules(ctx, created.ShopID, created.ItemID)
	s.logAudit(ctx, sess, created.ShopID, "pricing_rule_create", "item_pricing_rule", created.ID,
		fmt.Sprintf("item=%s,price=%s", created.ItemID, created.OverridePrice))
	return *created, nil
}

func (s *Service) UpdatePricingRule(ctx context.Context, sess domain.Session, id string, req domain.PricingRuleUpdateRequest) (domain.ItemPricingRule, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.ItemPricingRule{}, err
	}
	existing, err := s.repo.GetPricingRule(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ItemPricingRule{}, err
	}

	rule := *existing
	if req.OverridePrice != nil {
		rule.OverridePrice = *req.OverridePrice
	}
	if req.ClearMinQuantity {
		rule.MinQuantity = nil
	} else if req.MinQuantity != nil {
		rule.MinQuantity = req.MinQuantity
	}
	if req.ClearMaxQuantity {
		rule.MaxQuantity = nil
	} else if req.MaxQuantity != nil {
		rule.MaxQuantity = req.MaxQuantity
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	rule.UpdatedAt = s.now()
	if err := validatePricingRule(rule); err != nil {
		return domain.ItemPricingRule{}, err
	}

	saved, err := s.repo.UpdatePricingRule(ctx, rule)
	if err != nil {
		return domain.ItemPricingRule{}, err
	}
	s.invalidateRules(ctx, saved.ShopID, saved.ItemID)
	s.logAudit(ctx, sess, saved.ShopID, "pricing_rule_update", "item_pricing_rule", saved.ID,
		fmt.Sprintf("price=%s,active=%t", saved.OverridePrice, saved.Active))
	return *saved, nil
}

func (s *Service) ListDiscountRules(ctx context.Context, sess domain.Session, itemID string, shopID string) ([]domain.QuantityDiscountRule, error) {
	filter, err := s.ruleFilter(sess, itemID, shopID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDiscountRules(ctx, filter)
}

func (s *Service) CreateDiscountRule(ctx context.Context, sess domain.Session, req domain.DiscountRuleCreateRequest) (domain.QuantityDiscountRule, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.QuantityDiscountRule{}, err
	}
	shopID, err := s.resolveShop(sess, req.ShopID)
	if err != nil {
		return domain.QuantityDiscountRule{}, err
	}
	if _, err := s.repo.GetItem(ctx, strings.TrimSpace(req.ItemID)); err != nil {
		return domain.QuantityDiscountRule{}, err
	}

	now := s.now()
	rule := domain.QuantityDiscountRule{
		ID:              xid.OrNew(req.ID, "qdr"),
		ItemID:          strings.TrimSpace(req.ItemID),
		ShopID:          shopID,
		MinQuantity:     req.MinQuantity,
		DiscountPercent: req.DiscountPercent,
		DiscountAmount:  req.DiscountAmount,
		Active:          req.Active == nil || *req.Active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := validateDiscountRule(rule); err != nil {
		return domain.QuantityDiscountRule{}, err
	}

	created, err := s.repo.CreateDiscountRule(ctx, rule)
	if err != nil {
		return domain.QuantityDiscountRule{}, err
	}
	s.invalidateRules(ctx, created.ShopID, created.ItemID)
	s.logAudit(ctx, sess, created.ShopID, "discount_rule_create", "quantity_discount_rule", created.ID,
		fmt.Sprintf("item=%s,min=%s", created.ItemID, created.MinQuantity))
	return *created, nil
}

func (s *Service) UpdateDiscountRule(ctx context.Context, sess domain.Session, id string, req domain.DiscountRuleUpdateRequest) (domain.QuantityDiscountRule, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.QuantityDiscountRule{}, err
	}
	existing, err := s.repo.GetDiscountRule(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.QuantityDiscountRule{}, err
	}
	if req.DiscountPercent != nil && req.DiscountAmount != nil {
		return domain.QuantityDiscountRule{}, fmt.Errorf("%w: set either discount_percent or discount_amount", store.ErrInvalidInput)
	}

	rule := *existing
	if req.MinQuantity != nil {
		rule.MinQuantity = *req.MinQuantity
	}
	if req.DiscountPercent != nil {
		rule.DiscountPercent = req.DiscountPercent
		rule.DiscountAmount = nil
	}
	if req.DiscountAmount != nil {
		rule.DiscountAmount = req.DiscountAmount
		rule.DiscountPercent = nil
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	rule.UpdatedAt = s.now()
	if err := validateDiscountRule(rule); err != nil {
		return domain.QuantityDiscountRule{}, err
	}

	saved, err := s.repo.UpdateDiscountRule(ctx, rule)
	if err != nil {
		return domain.QuantityDiscountRule{}, err
	}
	s.invalidateRules(ctx, saved.ShopID, saved.ItemID)
	s.logAudit(ctx, sess, saved.ShopID, "discount_rule_update", "quantity_discount_rule", saved.ID,
		fmt.Sprintf("min=%s,active=%t", saved.MinQuantity, saved.Active))
	return *saved, nil
}

// QuotePrice runs the resolver for one item at the given quantity.
func (s *Service) QuotePrice(ctx context.Context, sess domain.Session, itemID string, shopID string, quantity decimal.Decimal) (domain.PriceQuote, error) {
	if !quantity.IsPositive() {
		return domain.PriceQuote{}, fmt.Errorf("%w: quantity must be greater than zero", store.ErrInvalidInput)
	}
	shopID, err := s.resolveShop(sess, shopID)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	item, err := s.repo.GetItem(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return domain.PriceQuote{}, err
	}
	rules, err := s.rulesFor(ctx, shopID, item.ID)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	res := pricing.Resolve(item.SalePrice, quantity, rules.Overrides, rules.Discounts)
	quote := domain.PriceQuote{
		ItemID:     item.ID,
		ShopID:     shopID,
		Quantity:   quantity,
		BasePrice:  item.SalePrice,
		UnitPrice:  res.UnitPrice,
		TotalPrice: res.TotalPrice,
	}
	if res.AppliedOverride != nil {
		quote.AppliedOverrideID = res.AppliedOverride.ID
	}
	if res.AppliedDiscount != nil {
		quote.AppliedDiscountID = res.AppliedDiscount.ID
	}
	return quote, nil
}

// rulesFor returns the active rules of one (shop, item), reading through the
// pricing cache. Cache failures degrade to a repository read.
func (s *Service) rulesFor(ctx context.Context, shopID string, itemID string) (*domain.PricingRuleSet, error) {
	cached, hit, err := s.cache.Get(ctx, shopID, itemID)
	if err != nil {
		logger.Warn(ctx).Err(err).Str("shop_id", shopID).Str("item_id", itemID).Msg("pricing cache read failed")
	}
	s.metrics.PricingCacheLookup(hit && err == nil)
	if hit && err == nil && cached != nil {
		return cached, nil
	}

	filter := domain.RuleFilter{ItemIDs: []string{itemID}, ShopID: shopID, ActiveOnly: true}
	overrides, err := s.repo.ListPricingRules(ctx, filter)
	if err != nil {
		return nil, err
	}
	discounts, err := s.repo.ListDiscountRules(ctx, filter)
	if err != nil {
		return nil, err
	}
	rules := &domain.PricingRuleSet{Overrides: overrides, Discounts: discounts}
	if err := s.cache.Set(ctx, shopID, itemID, rules, s.pricingTTL); err != nil {
		logger.Warn(ctx).Err(err).Str("shop_id", shopID).Str("item_id", itemID).Msg("pricing cache write failed")
	}
	return rules, nil
}

func (s *Service) invalidateRules(ctx context.Context, shopID string, itemID string) {
	if err := s.cache.Invalidate(ctx, shopID, itemID); err != nil {
		logger.Warn(ctx).Err(err).Str("shop_id", shopID).Str("item_id", itemID).Msg("pricing cache invalidation failed")
	}
}

func (s *Service) ruleFilter(sess domain.Session, itemID string, shopID string) (domain.RuleFilter, error) {
	filter := domain.RuleFilter{}
	if strings.TrimSpace(shopID) != "" || !sess.IsAdmin() {
		resolved, err := s.resolveShop(sess, shopID)
		if err != nil {
			return filter, err
		}
		filter.ShopID = resolved
	}
	if id := strings.TrimSpace(itemID); id != "" {
		filter.ItemIDs = []string{id}
	}
	return filter, nil
}

func validatePricingRule(rule domain.ItemPricingRule) error {
	if rule.OverridePrice.IsNegative() {
		return fmt.Errorf("%w: override_price must not be negative", store.ErrInvalidInput)
	}
	if rule.MinQuantity != nil && rule.MinQuantity.IsNegative() {
		return fmt.Errorf("%w: min_quantity must not be negative", store.ErrInvalidInput)
	}
	if rule.MaxQuantity != nil && !rule.MaxQuantity.IsPositive() {
		return fmt.Errorf("%w: max_quantity must be greater than zero", store.ErrInvalidInput)
	}
	if rule.MinQuantity != nil && rule.MaxQuantity != nil && rule.MinQuantity.GreaterThan(*rule.MaxQuantity) {
		return fmt.Errorf("%w: min_quantity exceeds max_quantity", store.ErrInvalidInput)
	}
	return nil
}

func validateDiscountRule(rule domain.QuantityDiscountRule) error {
	if rule.MinQuantity.IsNegative() {
		return fmt.Errorf("%w: min_quantity must not be negative", store.ErrInvalidInput)
	}
	switch {
	case rule.DiscountPercent != nil && rule.DiscountAmount != nil,
		rule.DiscountPercent == nil && rule.DiscountAmount == nil:
		return fmt.Errorf("%w: set exactly one of discount_percent or discount_amount", store.ErrInvalidInput)
	case rule.DiscountPercent != nil:
		if !rule.DiscountPercent.IsPositive() || rule.DiscountPercent.GreaterThan(hundred) {
			return fmt.Errorf("%w: discount_percent must be in (0, 100]", store.ErrInvalidInput)
		}
	default:
		if !rule.DiscountAmount.IsPositive() {
			return fmt.Errorf("%w: discount_amount must be greater than zero", store.ErrInvalidInput)
		}
	}
	return nil
}

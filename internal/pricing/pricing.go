// Package pricing resolves the effective unit price of an item from its base
// price, shop-specific override rules and quantity-discount tiers.
//
// Resolution is a pure function of its inputs: at most one override and at
// most one discount apply, and the most specific rule of each kind wins.
package pricing

import (
	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Result is the resolved price of one sale line and the rules that produced it.
type Result struct {
	UnitPrice       decimal.Decimal
	TotalPrice      decimal.Decimal
	AppliedOverride *domain.ItemPricingRule
	AppliedDiscount *domain.QuantityDiscountRule
}

// Resolve prices quantity units of an item. A matching override replaces the
// base price, then a matching quantity discount applies on top of it.
func Resolve(basePrice decimal.Decimal, quantity decimal.Decimal, overrides []domain.ItemPricingRule, discounts []domain.QuantityDiscountRule) Result {
	unit := basePrice
	override := SelectOverride(quantity, overrides)
	if override != nil {
		unit = override.OverridePrice
	}

	discount := SelectDiscount(quantity, discounts)
	if discount != nil {
		unit = ApplyDiscount(unit, *discount)
	}

	return Result{
		UnitPrice:       unit,
		TotalPrice:      unit.Mul(quantity),
		AppliedOverride: override,
		AppliedDiscount: discount,
	}
}

// SelectOverride returns the active override whose band contains quantity and
// has the largest min_quantity. Ties go to the smallest rule id.
func SelectOverride(quantity decimal.Decimal, overrides []domain.ItemPricingRule) *domain.ItemPricingRule {
	var best *domain.ItemPricingRule
	for i := range overrides {
		rule := overrides[i]
		if !rule.Active || !InBand(quantity, rule.MinQuantity, rule.MaxQuantity) {
			continue
		}
		if best == nil || moreSpecific(bandFloor(rule.MinQuantity), rule.ID, bandFloor(best.MinQuantity), best.ID) {
			picked := rule
			best = &picked
		}
	}
	return best
}

// SelectDiscount returns the active discount with the largest min_quantity not
// above quantity. Ties go to the smallest rule id.
func SelectDiscount(quantity decimal.Decimal, discounts []domain.QuantityDiscountRule) *domain.QuantityDiscountRule {
	var best *domain.QuantityDiscountRule
	for i := range discounts {
		rule := discounts[i]
		if !rule.Active || quantity.LessThan(rule.MinQuantity) {
			continue
		}
		if best == nil || moreSpecific(rule.MinQuantity, rule.ID, best.MinQuantity, best.ID) {
			picked := rule
			best = &picked
		}
	}
	return best
}

// ApplyDiscount reduces price by the rule's percentage or fixed per-unit
// amount, never going below zero.
func ApplyDiscount(price decimal.Decimal, rule domain.QuantityDiscountRule) decimal.Decimal {
	discounted := price
	switch {
	case rule.DiscountPercent != nil:
		discounted = price.Mul(decimal.NewFromInt(1).Sub(rule.DiscountPercent.Div(hundred)))
	case rule.DiscountAmount != nil:
		discounted = price.Sub(*rule.DiscountAmount)
	}
	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted
}

// InBand reports whether quantity lies in the inclusive [min, max] band; a nil
// bound is open on that side.
func InBand(quantity decimal.Decimal, min *decimal.Decimal, max *decimal.Decimal) bool {
	if min != nil && quantity.LessThan(*min) {
		return false
	}
	if max != nil && quantity.GreaterThan(*max) {
		return false
	}
	return true
}

func bandFloor(min *decimal.Decimal) decimal.Decimal {
	if min == nil {
		return decimal.Zero
	}
	return *min
}

func moreSpecific(minA decimal.Decimal, idA string, minB decimal.Decimal, idB string) bool {
	if cmp := minA.Cmp(minB); cmp != 0 {
		return cmp > 0
	}
	return idA < idB
}

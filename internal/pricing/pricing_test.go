package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func TestResolveWithoutRulesUsesBasePrice(t *testing.T) {
	res := Resolve(dec("100"), dec("3"), nil, nil)
	if !res.UnitPrice.Equal(dec("100")) {
		t.Fatalf("expected unit 100, got %s", res.UnitPrice)
	}
	if !res.TotalPrice.Equal(dec("300")) {
		t.Fatalf("expected total 300, got %s", res.TotalPrice)
	}
	if res.AppliedOverride != nil || res.AppliedDiscount != nil {
		t.Fatalf("expected no rules applied")
	}
}

func TestResolvePicksMostSpecificOverride(t *testing.T) {
	overrides := []domain.ItemPricingRule{
		{ID: "broad", OverridePrice: dec("100"), MinQuantity: decPtr("0"), Active: true},
		{ID: "narrow", OverridePrice: dec("90"), MinQuantity: decPtr("10"), Active: true},
	}

	res := Resolve(dec("120"), dec("15"), overrides, nil)
	if !res.UnitPrice.Equal(dec("90")) {
		t.Fatalf("expected override price 90, got %s", res.UnitPrice)
	}
	if res.AppliedOverride == nil || res.AppliedOverride.ID != "narrow" {
		t.Fatalf("expected narrow override, got %+v", res.AppliedOverride)
	}
}

func TestResolveOverrideBandBounds(t *testing.T) {
	overrides := []domain.ItemPricingRule{
		{ID: "band", OverridePrice: dec("80"), MinQuantity: decPtr("5"), MaxQuantity: decPtr("10"), Active: true},
	}

	cases := []struct {
		qty  string
		want string
	}{
		{"4", "100"},
		{"5", "80"},
		{"10", "80"},
		{"10.5", "100"},
	}
	for _, tc := range cases {
		res := Resolve(dec("100"), dec(tc.qty), overrides, nil)
		if !res.UnitPrice.Equal(dec(tc.want)) {
			t.Fatalf("qty %s: expected %s, got %s", tc.qty, tc.want, res.UnitPrice)
		}
	}
}

func TestResolveSkipsInactiveRules(t *testing.T) {
	overrides := []domain.ItemPricingRule{
		{ID: "off", OverridePrice: dec("1"), Active: false},
	}
	discounts := []domain.QuantityDiscountRule{
		{ID: "off", MinQuantity: dec("1"), DiscountPercent: decPtr("50"), Active: false},
	}

	res := Resolve(dec("40"), dec("2"), overrides, discounts)
	if !res.UnitPrice.Equal(dec("40")) {
		t.Fatalf("expected inactive rules to be ignored, got %s", res.UnitPrice)
	}
}

func TestResolveOverrideTieBreaksByID(t *testing.T) {
	overrides := []domain.ItemPricingRule{
		{ID: "rule-b", OverridePrice: dec("70"), MinQuantity: decPtr("5"), Active: true},
		{ID: "rule-a", OverridePrice: dec("75"), MinQuantity: decPtr("5"), Active: true},
	}

	for i := 0; i < 3; i++ {
		res := Resolve(dec("100"), dec("6"), overrides, nil)
		if res.AppliedOverride == nil || res.AppliedOverride.ID != "rule-a" {
			t.Fatalf("expected rule-a to win the tie, got %+v", res.AppliedOverride)
		}
	}
}

func TestResolveDiscountsDoNotStack(t *testing.T) {
	discounts := []domain.QuantityDiscountRule{
		{ID: "pct", MinQuantity: dec("10"), DiscountPercent: decPtr("10"), Active: true},
		{ID: "fixed", MinQuantity: dec("20"), DiscountAmount: decPtr("2"), Active: true},
	}

	res := Resolve(dec("50"), dec("25"), nil, discounts)
	if res.AppliedDiscount == nil || res.AppliedDiscount.ID != "fixed" {
		t.Fatalf("expected fixed discount, got %+v", res.AppliedDiscount)
	}
	if !res.UnitPrice.Equal(dec("48")) {
		t.Fatalf("expected unit 48, got %s", res.UnitPrice)
	}
}

func TestResolveFloorsAtZero(t *testing.T) {
	discounts := []domain.QuantityDiscountRule{
		{ID: "huge", MinQuantity: dec("1"), DiscountAmount: decPtr("15"), Active: true},
	}

	res := Resolve(dec("10"), dec("3"), nil, discounts)
	if !res.UnitPrice.IsZero() {
		t.Fatalf("expected unit price floored at 0, got %s", res.UnitPrice)
	}
	if !res.TotalPrice.IsZero() {
		t.Fatalf("expected total 0, got %s", res.TotalPrice)
	}
}

func TestResolveOverrideThenDiscount(t *testing.T) {
	overrides := []domain.ItemPricingRule{
		{ID: "o1", OverridePrice: dec("90"), MinQuantity: decPtr("5"), Active: true},
	}
	discounts := []domain.QuantityDiscountRule{
		{ID: "d1", MinQuantity: dec("10"), DiscountPercent: decPtr("10"), Active: true},
	}

	res := Resolve(dec("100"), dec("12"), overrides, discounts)
	if !res.UnitPrice.Equal(dec("81")) {
		t.Fatalf("expected unit 81, got %s", res.UnitPrice)
	}
	if !res.TotalPrice.Equal(dec("972")) {
		t.Fatalf("expected total 972, got %s", res.TotalPrice)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	overrides := []domain.ItemPricingRule{
		{ID: "x", OverridePrice: dec("33.3"), MinQuantity: decPtr("2"), Active: true},
		{ID: "y", OverridePrice: dec("31"), MinQuantity: decPtr("2"), MaxQuantity: decPtr("8"), Active: true},
	}
	discounts := []domain.QuantityDiscountRule{
		{ID: "p", MinQuantity: dec("3"), DiscountPercent: decPtr("12.5"), Active: true},
	}

	first := Resolve(dec("40"), dec("4.5"), overrides, discounts)
	for i := 0; i < 20; i++ {
		next := Resolve(dec("40"), dec("4.5"), overrides, discounts)
		if !next.UnitPrice.Equal(first.UnitPrice) || !next.TotalPrice.Equal(first.TotalPrice) {
			t.Fatalf("resolution changed between calls: %s/%s vs %s/%s", first.UnitPrice, first.TotalPrice, next.UnitPrice, next.TotalPrice)
		}
		if next.AppliedOverride.ID != first.AppliedOverride.ID {
			t.Fatalf("override selection changed between calls")
		}
	}
}

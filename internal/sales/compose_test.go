package sales

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func fiveHundredLines() []PricedLine {
	return []PricedLine{
		{ItemID: "rice", Quantity: dec("2"), UnitPrice: dec("150")},
		{ItemID: "oil", Quantity: dec("1"), UnitPrice: dec("200")},
	}
}

func TestComposeSplitPaymentWithinTolerance(t *testing.T) {
	sale, err := Compose(domain.SaleRequest{
		ID:            "sale-1",
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentSplit,
		CashAmount:    decPtr("300"),
		MpesaAmount:   decPtr("200"),
	}, fiveHundredLines())
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if !sale.TotalAmount.Equal(dec("500")) {
		t.Fatalf("expected total 500, got %s", sale.TotalAmount)
	}
	if len(sale.Payments) != 2 {
		t.Fatalf("expected two payments, got %d", len(sale.Payments))
	}
}

func TestComposeSplitPaymentMismatchRejected(t *testing.T) {
	_, err := Compose(domain.SaleRequest{
		ID:            "sale-2",
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentSplit,
		CashAmount:    decPtr("300"),
		MpesaAmount:   decPtr("150"),
	}, fiveHundredLines())
	if !errors.Is(err, store.ErrPaymentMismatch) {
		t.Fatalf("expected payment mismatch, got %v", err)
	}
}

func TestComposeSplitToleranceEdge(t *testing.T) {
	_, err := Compose(domain.SaleRequest{
		ID:            "sale-3",
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentSplit,
		CashAmount:    decPtr("300"),
		MpesaAmount:   decPtr("199.9"),
	}, fiveHundredLines())
	if err != nil {
		t.Fatalf("gap of exactly 0.1 must be accepted, got %v", err)
	}

	_, err = Compose(domain.SaleRequest{
		ID:            "sale-4",
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentSplit,
		CashAmount:    decPtr("300"),
		MpesaAmount:   decPtr("199.89"),
	}, fiveHundredLines())
	if !errors.Is(err, store.ErrPaymentMismatch) {
		t.Fatalf("gap above 0.1 must be rejected, got %v", err)
	}
}

func TestComposeSingleTenderPaysFullTotal(t *testing.T) {
	for _, method := range []string{domain.PaymentCash, domain.PaymentMpesa} {
		sale, err := Compose(domain.SaleRequest{ID: "sale-" + method, Category: domain.SaleImmediate, PaymentMethod: method}, fiveHundredLines())
		if err != nil {
			t.Fatalf("%s compose failed: %v", method, err)
		}
		if len(sale.Payments) != 1 || sale.Payments[0].Method != method || !sale.Payments[0].Amount.Equal(dec("500")) {
			t.Fatalf("%s: unexpected payments %+v", method, sale.Payments)
		}
	}
}

func TestComposeCreditRequiresCustomerAndHasNoPayments(t *testing.T) {
	_, err := Compose(domain.SaleRequest{ID: "sale-c1", Category: domain.SaleCredit}, fiveHundredLines())
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected validation error without customer, got %v", err)
	}

	sale, err := Compose(domain.SaleRequest{ID: "sale-c2", Category: domain.SalePrepaid, CustomerID: "cust-9"}, fiveHundredLines())
	if err != nil {
		t.Fatalf("prepaid compose failed: %v", err)
	}
	if len(sale.Payments) != 0 {
		t.Fatalf("prepaid sale must not carry payments, got %d", len(sale.Payments))
	}
	if sale.PaymentMethod != "" {
		t.Fatalf("prepaid sale must not carry a payment method")
	}
}

func TestComposeDropsNonPositiveLines(t *testing.T) {
	lines := []PricedLine{
		{ItemID: "rice", Quantity: dec("0"), UnitPrice: dec("150")},
		{ItemID: "oil", Quantity: dec("-1"), UnitPrice: dec("200")},
		{ItemID: "salt", Quantity: dec("1.5"), UnitPrice: dec("20")},
	}

	sale, err := Compose(domain.SaleRequest{ID: "sale-d", Category: domain.SaleImmediate, PaymentMethod: domain.PaymentCash}, lines)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if len(sale.Items) != 1 || sale.Items[0].ItemID != "salt" {
		t.Fatalf("expected only salt line, got %+v", sale.Items)
	}
	if !sale.Items[0].TotalPrice.Equal(dec("30")) {
		t.Fatalf("expected line total 30, got %s", sale.Items[0].TotalPrice)
	}

	_, err = Compose(domain.SaleRequest{ID: "sale-e", Category: domain.SaleImmediate, PaymentMethod: domain.PaymentCash}, lines[:2])
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected empty sale to be rejected, got %v", err)
	}
}

func TestNormalizeLinesDropsNonPositiveBeforeAnythingElse(t *testing.T) {
	lines := NormalizeLines([]domain.SaleLineRequest{
		{ItemID: "rice", Quantity: dec("-3")},
		{ItemID: "rice", Quantity: dec("5")},
		{ItemID: "oil", Quantity: dec("0")},
		{ItemID: " ", Quantity: dec("4")},
	})
	if len(lines) != 1 {
		t.Fatalf("expected only the positive rice line, got %+v", lines)
	}
	if lines[0].ItemID != "rice" || !lines[0].Quantity.Equal(dec("5")) {
		t.Fatalf("expected rice x5 untouched by the negative line, got %+v", lines[0])
	}
}

func TestNormalizeLinesKeepsRepeatedItemsSeparate(t *testing.T) {
	lines := NormalizeLines([]domain.SaleLineRequest{
		{ItemID: "rice", Quantity: dec("5")},
		{ItemID: "sugar", Quantity: dec("1")},
		{ItemID: "rice", Quantity: dec("5")},
	})
	if len(lines) != 3 {
		t.Fatalf("expected three lines, got %+v", lines)
	}
	if lines[0].ItemID != "rice" || lines[1].ItemID != "sugar" || lines[2].ItemID != "rice" {
		t.Fatalf("expected request order kept, got %+v", lines)
	}
}

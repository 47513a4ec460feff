package sales

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

// PaymentTolerance is the largest absolute gap allowed between a split
// tender and the sale total.
var PaymentTolerance = decimal.RequireFromString("0.1")

// PricedLine is a sale line after the pricing resolver has run.
type PricedLine struct {
	ItemID         string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	OverrideRuleID string
	DiscountRuleID string
}

// NormalizeLines drops lines without an item or with a non-positive quantity.
// Repeated items stay separate lines, each priced on its own quantity.
func NormalizeLines(lines []domain.SaleLineRequest) []domain.SaleLineRequest {
	normalized := make([]domain.SaleLineRequest, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ItemID)
		if id == "" || !line.Quantity.IsPositive() {
			continue
		}
		normalized = append(normalized, domain.SaleLineRequest{ItemID: id, Quantity: line.Quantity})
	}
	return normalized
}

// Compose builds the sale, its lines and its payment allocation. req.ID must
// already be set; line and payment ids derive from it.
func Compose(req domain.SaleRequest, lines []PricedLine) (domain.Sale, error) {
	category := strings.ToUpper(strings.TrimSpace(req.Category))
	customerID := strings.TrimSpace(req.CustomerID)

	switch category {
	case domain.SaleImmediate:
	case domain.SaleCredit, domain.SalePrepaid:
		if customerID == "" {
			return domain.Sale{}, fmt.Errorf("%w: %s sale requires a customer", store.ErrInvalidInput, strings.ToLower(category))
		}
	default:
		return domain.Sale{}, fmt.Errorf("%w: unknown sale category %q", store.ErrInvalidInput, req.Category)
	}

	sale := domain.Sale{
		ID:         req.ID,
		CustomerID: customerID,
		Category:   category,
		Items:      make([]domain.SaleItem, 0, len(lines)),
	}
	total := decimal.Zero
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			continue
		}
		lineTotal := line.UnitPrice.Mul(line.Quantity)
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:             xid.Derive(req.ID, "line", fmt.Sprint(len(sale.Items)+1)),
			SaleID:         req.ID,
			ItemID:         line.ItemID,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			TotalPrice:     lineTotal,
			OverrideRuleID: line.OverrideRuleID,
			DiscountRuleID: line.DiscountRuleID,
		})
		total = total.Add(lineTotal)
	}
	if len(sale.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale has no items", store.ErrInvalidInput)
	}
	sale.TotalAmount = total

	if category != domain.SaleImmediate {
		sale.Payments = []domain.SalePayment{}
		return sale, nil
	}

	method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	payments, err := AllocatePayments(method, total, req.CashAmount, req.MpesaAmount)
	if err != nil {
		return domain.Sale{}, err
	}
	for i := range payments {
		payments[i].ID = xid.Derive(req.ID, "pay", fmt.Sprint(i+1))
		payments[i].SaleID = req.ID
	}
	sale.PaymentMethod = method
	sale.Payments = payments
	return sale, nil
}

// AllocatePayments splits an immediate sale's total across tenders. A split
// must name both amounts and they must sum to total within PaymentTolerance.
func AllocatePayments(method string, total decimal.Decimal, cash *decimal.Decimal, mpesa *decimal.Decimal) ([]domain.SalePayment, error) {
	switch method {
	case domain.PaymentCash, domain.PaymentMpesa:
		return []domain.SalePayment{{Method: method, Amount: total}}, nil
	case domain.PaymentSplit:
		if cash == nil || mpesa == nil {
			return nil, fmt.Errorf("%w: split payment requires cash and mpesa amounts", store.ErrInvalidInput)
		}
		if cash.IsNegative() || mpesa.IsNegative() {
			return nil, fmt.Errorf("%w: split amounts must not be negative", store.ErrInvalidInput)
		}
		sum := cash.Add(*mpesa)
		if sum.Sub(total).Abs().GreaterThan(PaymentTolerance) {
			return nil, fmt.Errorf("%w: cash %s + mpesa %s != total %s", store.ErrPaymentMismatch, cash, mpesa, total)
		}
		return []domain.SalePayment{
			{Method: domain.PaymentCash, Amount: *cash},
			{Method: domain.PaymentMpesa, Amount: *mpesa},
		}, nil
	case "":
		return nil, fmt.Errorf("%w: payment method required for immediate sale", store.ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, method)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/pricing"
	"dukapos/backend/internal/sales"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

// SubmitSale prices every line, composes the sale and persists it together
// with its stock deductions. A sale id seen before returns the stored sale.
func (s *Service) SubmitSale(ctx context.Context, sess domain.Session, req domain.SaleRequest) (domain.SaleResponse, error) {
	req.ID = xid.OrNew(req.ID, "sale")
	if stored, err := s.repo.GetSale(ctx, req.ID); err == nil {
		if !saleVisible(sess, stored) {
			return domain.SaleResponse{}, store.ErrNotFound
		}
		return domain.SaleResponse{Sale: *stored, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	shift, err := s.requireShift(ctx, sess, s.sessionShop(sess))
	if err != nil {
		s.metrics.SaleRejected("shift")
		return domain.SaleResponse{}, err
	}

	lines := sales.NormalizeLines(req.Items)
	if len(lines) == 0 {
		s.metrics.SaleRejected("empty")
		return domain.SaleResponse{}, fmt.Errorf("%w: sale has no items", store.ErrInvalidInput)
	}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ItemID)
	}
	items, err := s.repo.GetItemsByIDs(ctx, ids)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	priced := make([]sales.PricedLine, 0, len(lines))
	for _, line := range lines {
		item, ok := items[line.ItemID]
		if !ok || !item.Active {
			s.metrics.SaleRejected("item")
			return domain.SaleResponse{}, fmt.Errorf("%w: item %s is not available for sale", store.ErrInvalidInput, line.ItemID)
		}
		rules, err := s.rulesFor(ctx, shift.ShopID, item.ID)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		res := pricing.Resolve(item.SalePrice, line.Quantity, rules.Overrides, rules.Discounts)
		pl := sales.PricedLine{ItemID: item.ID, Quantity: line.Quantity, UnitPrice: res.UnitPrice}
		if res.AppliedOverride != nil {
			pl.OverrideRuleID = res.AppliedOverride.ID
		}
		if res.AppliedDiscount != nil {
			pl.DiscountRuleID = res.AppliedDiscount.ID
		}
		priced = append(priced, pl)
	}

	sale, err := sales.Compose(req, priced)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPaymentMismatch):
			s.metrics.SaleRejected("payment_mismatch")
		default:
			s.metrics.SaleRejected("invalid")
		}
		return domain.SaleResponse{}, err
	}
	sale.ShopID = shift.ShopID
	sale.ShiftID = shift.ID
	sale.CreatedBy = sess.UserID
	sale.CreatedAt = s.now()

	deductions := make([]domain.StockTransaction, 0, len(sale.Items))
	for _, line := range sale.Items {
		deductions = append(deductions, domain.StockTransaction{
			ID:        xid.Derive(line.ID, "stock"),
			ItemID:    line.ItemID,
			ShopID:    sale.ShopID,
			Type:      domain.StockTxOut,
			Quantity:  line.Quantity,
			Reason:    domain.ReasonSale,
			Reference: sale.ID,
			ShiftID:   sale.ShiftID,
			CreatedBy: sale.CreatedBy,
			CreatedAt: sale.CreatedAt,
		})
	}

	resp, err := s.repo.CreateSale(ctx, sale, deductions)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if resp.Duplicate {
		return *resp, nil
	}

	s.metrics.SaleRecorded(sale.Category)
	s.publishStock(ctx, deductions)
	s.logAudit(ctx, sess, sale.ShopID, "sale_create", "sale", sale.ID,
		fmt.Sprintf("category=%s,total=%s,lines=%d", sale.Category, sale.TotalAmount, len(sale.Items)))
	return *resp, nil
}

func (s *Service) GetSale(ctx context.Context, sess domain.Session, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	if !saleVisible(sess, sale) {
		return domain.Sale{}, store.ErrNotFound
	}
	return *sale, nil
}

// saleVisible hides sales of other shops from non-admin sessions.
func saleVisible(sess domain.Session, sale *domain.Sale) bool {
	return sess.IsAdmin() || sess.ShopID == "" || sale.ShopID == sess.ShopID
}

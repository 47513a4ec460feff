package service

import (
	"context"
	"fmt"
	"strings"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/reconcile"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

// SubmitStockTake commits a full physical count. Every active catalog item
// must be counted; the batch id makes a resubmission return the stored rows.
func (s *Service) SubmitStockTake(ctx context.Context, sess domain.Session, req domain.StockTakeRequest) (domain.StockTakeResponse, error) {
	shopID, err := s.resolveShop(sess, req.ShopID)
	if err != nil {
		return domain.StockTakeResponse{}, err
	}
	if len(req.Entries) == 0 {
		return domain.StockTakeResponse{}, fmt.Errorf("%w: stock-take has no entries", store.ErrInvalidInput)
	}

	entries := make([]domain.StockTakeEntry, 0, len(req.Entries))
	counts := make([]domain.StockCount, 0, len(req.Entries))
	ids := make([]string, 0, len(req.Entries))
	seen := make(map[string]struct{}, len(req.Entries))
	for _, entry := range req.Entries {
		entry.ItemID = strings.TrimSpace(entry.ItemID)
		if entry.ItemID == "" {
			return domain.StockTakeResponse{}, fmt.Errorf("%w: item_id is required", store.ErrInvalidInput)
		}
		if _, dup := seen[entry.ItemID]; dup {
			return domain.StockTakeResponse{}, fmt.Errorf("%w: item %s counted twice", store.ErrInvalidInput, entry.ItemID)
		}
		seen[entry.ItemID] = struct{}{}
		if entry.CountedQty != nil && entry.CountedQty.IsNegative() {
			return domain.StockTakeResponse{}, fmt.Errorf("%w: counted_qty for %s must not be negative", store.ErrInvalidInput, entry.ItemID)
		}
		entries = append(entries, entry)
		ids = append(ids, entry.ItemID)
		if entry.CountedQty != nil {
			counts = append(counts, domain.StockCount{
				ItemID:     entry.ItemID,
				CountedQty: *entry.CountedQty,
				Notes:      strings.TrimSpace(entry.Notes),
			})
		}
	}

	known, err := s.repo.GetItemsByIDs(ctx, ids)
	if err != nil {
		return domain.StockTakeResponse{}, err
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return domain.StockTakeResponse{}, fmt.Errorf("%w: unknown item %s", store.ErrInvalidInput, id)
		}
	}

	active, err := s.repo.ListItems(ctx, true)
	if err != nil {
		return domain.StockTakeResponse{}, err
	}
	activeIDs := make([]string, 0, len(active))
	for _, item := range active {
		activeIDs = append(activeIDs, item.ID)
	}
	if missing := reconcile.Missing(activeIDs, entries); len(missing) > 0 {
		return domain.StockTakeResponse{}, fmt.Errorf("%w: counted_qty missing for %s", store.ErrInvalidInput, strings.Join(missing, ", "))
	}

	resp, err := s.repo.CommitStockTake(ctx, domain.StockTakeCommit{
		BatchID:    xid.OrNew(req.BatchID, "take"),
		ShopID:     shopID,
		ShiftID:    sess.ShiftID,
		CreatedBy:  sess.UserID,
		AutoAdjust: req.AutoAdjust,
		Counts:     counts,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.StockTakeResponse{}, err
	}
	if resp.Duplicate {
		return *resp, nil
	}

	s.metrics.StockTakeCommitted(resp.Lines)
	s.publishStock(ctx, resp.Adjustments)
	s.logAudit(ctx, sess, shopID, "stock_take", "stock_take_batch", resp.BatchID,
		fmt.Sprintf("lines=%d,adjustments=%d,auto_adjust=%t", len(resp.Lines), len(resp.Adjustments), req.AutoAdjust))
	return *resp, nil
}

func (s *Service) ListStockTakes(ctx context.Context, sess domain.Session, shopID string, limit int) ([]domain.StockTake, error) {
	shopID, err := s.resolveShop(sess, shopID)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListStockTakes(ctx, shopID, limit)
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

const maxStockTransactionLimit = 500

func (s *Service) ListStockLevels(ctx context.Context, sess domain.Session, shopID string) ([]domain.StockLevel, error) {
	shopID, err := s.resolveShop(sess, shopID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListStockLevels(ctx, shopID)
}

// GetStockLevel returns a zero level at version 0 for an item that has never
// moved at the shop.
func (s *Service) GetStockLevel(ctx context.Context, sess domain.Session, itemID string, shopID string) (domain.StockLevel, error) {
	shopID, err := s.resolveShop(sess, shopID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	itemID = strings.TrimSpace(itemID)
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return domain.StockLevel{}, err
	}

	levels, err := s.repo.GetStockLevels(ctx, shopID, []string{itemID})
	if err != nil {
		return domain.StockLevel{}, err
	}
	if level, ok := levels[itemID]; ok {
		return level, nil
	}
	return domain.StockLevel{ItemID: itemID, ShopID: shopID, Quantity: decimal.Zero}, nil
}

func (s *Service) ListStockTransactions(ctx context.Context, sess domain.Session, filter domain.StockTransactionFilter) ([]domain.StockTransaction, error) {
	shopID, err := s.resolveShop(sess, filter.ShopID)
	if err != nil {
		return nil, err
	}
	filter.ShopID = shopID
	filter.Type = strings.ToUpper(strings.TrimSpace(filter.Type))
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if filter.Limit > maxStockTransactionLimit {
		filter.Limit = maxStockTransactionLimit
	}
	return s.repo.ListStockTransactions(ctx, filter)
}

func (s *Service) ApplyStockTransaction(ctx context.Context, sess domain.Session, req domain.StockTransactionRequest) (domain.StockTransactionResult, error) {
	results, err := s.ApplyStockTransactions(ctx, sess, []domain.StockTransactionRequest{req})
	if err != nil {
		return domain.StockTransactionResult{}, err
	}
	return results[0], nil
}

// ApplyStockTransactions validates every request before any is written; the
// batch then applies atomically. Levels may go negative.
func (s *Service) ApplyStockTransactions(ctx context.Context, sess domain.Session, reqs []domain.StockTransactionRequest) ([]domain.StockTransactionResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no stock transactions", store.ErrInvalidInput)
	}

	now := s.now()
	txns := make([]domain.StockTransaction, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for i, req := range reqs {
		txn, err := s.buildStockTransaction(sess, req, now)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i+1, err)
		}
		if _, dup := seen[txn.ID]; dup {
			return nil, fmt.Errorf("%w: transaction id %s repeated in batch", store.ErrInvalidInput, txn.ID)
		}
		seen[txn.ID] = struct{}{}
		txns = append(txns, txn)
	}

	results, err := s.repo.ApplyStockTransactions(ctx, txns)
	if err != nil {
		return nil, err
	}

	s.metrics.StockApplied(results)
	s.publishStock(ctx, appliedTransactions(results))
	return results, nil
}

func (s *Service) buildStockTransaction(sess domain.Session, req domain.StockTransactionRequest, now time.Time) (domain.StockTransaction, error) {
	shopID, err := s.resolveShop(sess, req.ShopID)
	if err != nil {
		return domain.StockTransaction{}, err
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		return domain.StockTransaction{}, fmt.Errorf("%w: item_id is required", store.ErrInvalidInput)
	}

	txType := strings.ToUpper(strings.TrimSpace(req.Type))
	reason := strings.ToUpper(strings.TrimSpace(req.Reason))
	switch txType {
	case domain.StockTxIn:
		if !req.Quantity.IsPositive() {
			return domain.StockTransaction{}, fmt.Errorf("%w: quantity must be greater than zero", store.ErrInvalidInput)
		}
		reason = defaultString(reason, domain.ReasonPurchase)
	case domain.StockTxOut:
		if !req.Quantity.IsPositive() {
			return domain.StockTransaction{}, fmt.Errorf("%w: quantity must be greater than zero", store.ErrInvalidInput)
		}
		if reason == "" {
			return domain.StockTransaction{}, fmt.Errorf("%w: reason is required for OUT", store.ErrInvalidInput)
		}
	case domain.StockTxAdjustment:
		if req.Quantity.IsZero() {
			return domain.StockTransaction{}, fmt.Errorf("%w: adjustment quantity must not be zero", store.ErrInvalidInput)
		}
		reason = defaultString(reason, domain.ReasonManualSet)
	case domain.StockTxTransferIn, domain.StockTxTransferOut:
		return domain.StockTransaction{}, fmt.Errorf("%w: use the transfer endpoint for %s", store.ErrInvalidInput, txType)
	default:
		return domain.StockTransaction{}, fmt.Errorf("%w: unknown stock transaction type %q", store.ErrInvalidInput, req.Type)
	}

	return domain.StockTransaction{
		ID:         xid.OrNew(req.ID, "stx"),
		ItemID:     itemID,
		ShopID:     shopID,
		Type:       txType,
		Quantity:   req.Quantity,
		Reason:     reason,
		SupplierID: strings.TrimSpace(req.SupplierID),
		Reference:  strings.TrimSpace(req.Reference),
		ShiftID:    sess.ShiftID,
		CreatedBy:  sess.UserID,
		CreatedAt:  now,
	}, nil
}

// TransferStock moves quantity between two shops as a TRANSFER_OUT and
// TRANSFER_IN pair written in one repository call.
func (s *Service) TransferStock(ctx context.Context, sess domain.Session, req domain.StockTransferRequest) (domain.StockTransferResponse, error) {
	from := strings.TrimSpace(req.FromShopID)
	to := strings.TrimSpace(req.ToShopID)
	itemID := strings.TrimSpace(req.ItemID)
	switch {
	case itemID == "":
		return domain.StockTransferResponse{}, fmt.Errorf("%w: item_id is required", store.ErrInvalidInput)
	case from == "" || to == "":
		return domain.StockTransferResponse{}, fmt.Errorf("%w: from_shop_id and to_shop_id are required", store.ErrInvalidInput)
	case from == to:
		return domain.StockTransferResponse{}, fmt.Errorf("%w: transfer needs two different shops", store.ErrInvalidInput)
	case !req.Quantity.IsPositive():
		return domain.StockTransferResponse{}, fmt.Errorf("%w: quantity must be greater than zero", store.ErrInvalidInput)
	}
	if !sess.IsAdmin() && from != sess.ShopID {
		return domain.StockTransferResponse{}, fmt.Errorf("%w: transfers must leave the session shop", ErrForbidden)
	}

	id := xid.OrNew(req.ID, "xfer")
	reference := defaultString(req.Reference, id)
	now := s.now()
	base := domain.StockTransaction{
		ItemID:    itemID,
		Quantity:  req.Quantity,
		Reason:    domain.ReasonTransfer,
		Reference: reference,
		ShiftID:   sess.ShiftID,
		CreatedBy: sess.UserID,
		CreatedAt: now,
	}
	out := base
	out.ID = xid.Derive(id, "out")
	out.ShopID = from
	out.Type = domain.StockTxTransferOut
	in := base
	in.ID = xid.Derive(id, "in")
	in.ShopID = to
	in.Type = domain.StockTxTransferIn

	results, err := s.repo.ApplyStockTransactions(ctx, []domain.StockTransaction{out, in})
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	s.metrics.StockApplied(results)
	s.publishStock(ctx, appliedTransactions(results))

	resp := domain.StockTransferResponse{
		Out:       results[0],
		In:        results[1],
		Duplicate: results[0].Duplicate && results[1].Duplicate,
	}
	if !resp.Duplicate {
		s.logAudit(ctx, sess, from, "stock_transfer", "stock_transfer", id,
			fmt.Sprintf("item=%s,qty=%s,to=%s", itemID, req.Quantity, to))
	}
	return resp, nil
}

// SetStockLevel writes an absolute quantity when the caller's expected
// version still matches, recording the difference as an ADJUSTMENT.
func (s *Service) SetStockLevel(ctx context.Context, sess domain.Session, itemID string, req domain.StockLevelSetRequest) (domain.StockTransactionResult, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.StockTransactionResult{}, err
	}
	if req.Quantity.IsNegative() {
		return domain.StockTransactionResult{}, fmt.Errorf("%w: quantity must not be negative", store.ErrInvalidInput)
	}
	if req.ExpectedVersion < 0 {
		return domain.StockTransactionResult{}, fmt.Errorf("%w: expected_version must not be negative", store.ErrInvalidInput)
	}
	shopID, err := s.resolveShop(sess, req.ShopID)
	if err != nil {
		return domain.StockTransactionResult{}, err
	}

	txn := domain.StockTransaction{
		ID:        xid.OrNew(req.ID, "stx"),
		ItemID:    strings.TrimSpace(itemID),
		ShopID:    shopID,
		Type:      domain.StockTxAdjustment,
		Reason:    defaultString(strings.ToUpper(req.Reason), domain.ReasonManualSet),
		ShiftID:   sess.ShiftID,
		CreatedBy: sess.UserID,
		CreatedAt: s.now(),
	}
	result, err := s.repo.SetStockLevel(ctx, txn, req.Quantity, req.ExpectedVersion)
	if err != nil {
		return domain.StockTransactionResult{}, err
	}

	results := []domain.StockTransactionResult{*result}
	s.metrics.StockApplied(results)
	if !result.Duplicate {
		s.publishStock(ctx, []domain.StockTransaction{result.Transaction})
		s.logAudit(ctx, sess, shopID, "stock_set", "stock_level", txn.ItemID,
			fmt.Sprintf("qty=%s->%s,version=%d", result.Transaction.QuantityBefore, result.Transaction.QuantityAfter, result.Level.Version))
	}
	return *result, nil
}

func appliedTransactions(results []domain.StockTransactionResult) []domain.StockTransaction {
	txns := make([]domain.StockTransaction, 0, len(results))
	for _, res := range results {
		if res.Duplicate {
			continue
		}
		txns = append(txns, res.Transaction)
	}
	return txns
}

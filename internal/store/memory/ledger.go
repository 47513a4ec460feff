package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/reconcile"
	"dukapos/backend/internal/store"
)

func (s *Store) ListStockLevels(_ context.Context, shopID string) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := make([]domain.StockLevel, 0, len(s.levels[shopID]))
	for _, level := range s.levels[shopID] {
		levels = append(levels, level)
	}
	slices.SortFunc(levels, func(a, b domain.StockLevel) int {
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return levels, nil
}

func (s *Store) GetStockLevels(_ context.Context, shopID string, itemIDs []string) (map[string]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.StockLevel, len(itemIDs))
	for _, id := range itemIDs {
		if level, ok := s.levels[shopID][id]; ok {
			result[id] = level
		}
	}
	return result, nil
}

func (s *Store) ApplyStockTransactions(_ context.Context, txns []domain.StockTransaction) ([]domain.StockTransactionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkItemsLocked(txns); err != nil {
		return nil, err
	}
	results := make([]domain.StockTransactionResult, 0, len(txns))
	for _, txn := range txns {
		results = append(results, s.applyLocked(txn))
	}
	return results, nil
}

func (s *Store) SetStockLevel(_ context.Context, txn domain.StockTransaction, quantity decimal.Decimal, expectedVersion int64) (*domain.StockTransactionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, exists := s.stockTxByID[txn.ID]; exists {
		return &domain.StockTransactionResult{Transaction: stored, Level: s.levelLocked(stored.ShopID, stored.ItemID), Duplicate: true}, nil
	}
	if _, exists := s.items[txn.ItemID]; !exists {
		return nil, store.ErrNotFound
	}

	current := s.levelLocked(txn.ShopID, txn.ItemID)
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: expected %d, found %d", store.ErrVersionConflict, expectedVersion, current.Version)
	}
	txn.Type = domain.StockTxAdjustment
	txn.Quantity = quantity.Sub(current.Quantity)
	result := s.applyLocked(txn)
	return &result, nil
}

func (s *Store) ListStockTransactions(_ context.Context, filter domain.StockTransactionFilter) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockTransaction, 0, 64)
	for i := len(s.stockTxLog) - 1; i >= 0; i-- {
		txn := s.stockTxByID[s.stockTxLog[i]]
		if filter.ShopID != "" && txn.ShopID != filter.ShopID {
			continue
		}
		if filter.ItemID != "" && txn.ItemID != filter.ItemID {
			continue
		}
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		result = append(result, txn)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CommitStockTake(_ context.Context, commit domain.StockTakeCommit) (*domain.StockTakeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, exists := s.batches[commit.BatchID]; exists {
		stored.Duplicate = true
		return &stored, nil
	}
	for _, count := range commit.Counts {
		if _, exists := s.items[count.ItemID]; !exists {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, count.ItemID)
		}
	}

	expected := make(map[string]decimal.Decimal, len(commit.Counts))
	for _, id := range reconcile.ItemIDs(commit) {
		expected[id] = s.levelLocked(commit.ShopID, id).Quantity
	}
	takes, adjustments := reconcile.Materialize(commit, reconcile.Plan(commit.Counts, expected, commit.AutoAdjust))

	for _, take := range takes {
		s.takesByID[take.ID] = take
		s.takeLog = append(s.takeLog, take.ID)
	}
	for _, adj := range adjustments {
		s.applyLocked(adj)
	}

	resp := domain.StockTakeResponse{
		BatchID:     commit.BatchID,
		ShopID:      commit.ShopID,
		Lines:       takes,
		Adjustments: adjustments,
	}
	s.batches[commit.BatchID] = resp
	return &resp, nil
}

func (s *Store) ListStockTakes(_ context.Context, shopID string, limit int) ([]domain.StockTake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockTake, 0, 64)
	for i := len(s.takeLog) - 1; i >= 0; i-- {
		take := s.takesByID[s.takeLog[i]]
		if shopID != "" && take.ShopID != shopID {
			continue
		}
		result = append(result, take)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// applyLocked records txn and moves its level by txn.Delta(). A transaction
// id that already exists is returned as stored. Callers hold s.mu.
func (s *Store) applyLocked(txn domain.StockTransaction) domain.StockTransactionResult {
	if stored, exists := s.stockTxByID[txn.ID]; exists {
		return domain.StockTransactionResult{Transaction: stored, Level: s.levelLocked(stored.ShopID, stored.ItemID), Duplicate: true}
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	level := s.levelLocked(txn.ShopID, txn.ItemID)
	txn.QuantityBefore = level.Quantity
	level.Quantity = level.Quantity.Add(txn.Delta())
	level.Version++
	level.UpdatedAt = txn.CreatedAt
	txn.QuantityAfter = level.Quantity

	if s.levels[txn.ShopID] == nil {
		s.levels[txn.ShopID] = make(map[string]domain.StockLevel)
	}
	s.levels[txn.ShopID][txn.ItemID] = level
	s.stockTxByID[txn.ID] = txn
	s.stockTxLog = append(s.stockTxLog, txn.ID)
	return domain.StockTransactionResult{Transaction: txn, Level: level}
}

// levelLocked returns the level for (shop, item), or a zero level at version
// 0 when none exists yet.
func (s *Store) levelLocked(shopID string, itemID string) domain.StockLevel {
	if level, ok := s.levels[shopID][itemID]; ok {
		return level
	}
	return domain.StockLevel{ItemID: itemID, ShopID: shopID, Quantity: decimal.Zero}
}

func (s *Store) checkItemsLocked(txns []domain.StockTransaction) error {
	for _, txn := range txns {
		if _, exists := s.stockTxByID[txn.ID]; exists {
			continue
		}
		if _, exists := s.items[txn.ItemID]; !exists {
			return fmt.Errorf("%w: item %s", store.ErrNotFound, txn.ItemID)
		}
	}
	return nil
}

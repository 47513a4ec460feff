// Package reconcile turns a physical stock count into stock-take rows and the
// correcting adjustments that force each level to match its count.
package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/xid"
)

type Line struct {
	ItemID   string
	Expected decimal.Decimal
	Counted  decimal.Decimal
	Variance decimal.Decimal
	Notes    string
	Adjust   bool
}

// Variance is counted minus expected: positive is a surplus, negative a shortage.
func Variance(counted decimal.Decimal, expected decimal.Decimal) decimal.Decimal {
	return counted.Sub(expected)
}

// Plan compares every count with the current level. Items without a level
// row count against an expected quantity of zero.
func Plan(counts []domain.StockCount, levels map[string]decimal.Decimal, autoAdjust bool) []Line {
	lines := make([]Line, 0, len(counts))
	for _, count := range counts {
		expected := levels[count.ItemID]
		variance := Variance(count.CountedQty, expected)
		lines = append(lines, Line{
			ItemID:   count.ItemID,
			Expected: expected,
			Counted:  count.CountedQty,
			Variance: variance,
			Notes:    count.Notes,
			Adjust:   autoAdjust && !variance.IsZero(),
		})
	}
	return lines
}

// Missing lists active item ids that have no usable count, sorted.
func Missing(activeItemIDs []string, entries []domain.StockTakeEntry) []string {
	counted := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.CountedQty == nil {
			continue
		}
		counted[entry.ItemID] = struct{}{}
	}

	missing := make([]string, 0)
	for _, id := range activeItemIDs {
		if _, ok := counted[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

// Materialize builds the immutable rows for a planned batch. Row ids derive
// from the batch id, so replaying a batch yields the same ids.
func Materialize(commit domain.StockTakeCommit, lines []Line) ([]domain.StockTake, []domain.StockTransaction) {
	at := commit.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	takes := make([]domain.StockTake, 0, len(lines))
	adjustments := make([]domain.StockTransaction, 0, len(lines))
	for _, line := range lines {
		take := domain.StockTake{
			ID:          xid.Derive(commit.BatchID, line.ItemID),
			BatchID:     commit.BatchID,
			ItemID:      line.ItemID,
			ShopID:      commit.ShopID,
			ShiftID:     commit.ShiftID,
			ExpectedQty: line.Expected,
			CountedQty:  line.Counted,
			Variance:    line.Variance,
			Notes:       line.Notes,
			Adjusted:    line.Adjust,
			CreatedBy:   commit.CreatedBy,
			CreatedAt:   at,
		}
		if line.Adjust {
			adj := domain.StockTransaction{
				ID:             xid.Derive(commit.BatchID, "adj", line.ItemID),
				ItemID:         line.ItemID,
				ShopID:         commit.ShopID,
				Type:           domain.StockTxAdjustment,
				Quantity:       line.Variance,
				QuantityBefore: line.Expected,
				QuantityAfter:  line.Counted,
				Reason:         domain.ReasonStockTake,
				Reference:      commit.BatchID,
				ShiftID:        commit.ShiftID,
				CreatedBy:      commit.CreatedBy,
				CreatedAt:      at,
			}
			take.AdjustmentID = adj.ID
			adjustments = append(adjustments, adj)
		}
		takes = append(takes, take)
	}
	return takes, adjustments
}

// ItemIDs returns the distinct item ids of a commit in a stable order, which
// is also the order levels are locked in.
func ItemIDs(commit domain.StockTakeCommit) []string {
	seen := make(map[string]struct{}, len(commit.Counts))
	ids := make([]string, 0, len(commit.Counts))
	for _, count := range commit.Counts {
		if _, ok := seen[count.ItemID]; ok {
			continue
		}
		seen[count.ItemID] = struct{}{}
		ids = append(ids, count.ItemID)
	}
	sort.Strings(ids)
	return ids
}

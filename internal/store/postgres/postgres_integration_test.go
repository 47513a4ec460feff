package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("DUKAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DUKAPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStockLedgerAndStockTakeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	itemID := fmt.Sprintf("ITEM-IT-%d", stamp)
	shopID := fmt.Sprintf("shop-it-%d", stamp)
	batchID := fmt.Sprintf("batch-it-%d", stamp)
	now := time.Now().UTC()

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_takes WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_transactions WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_levels WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	})

	if _, err := s.CreateItem(ctx, domain.Item{ID: itemID, Name: "Integration Sugar", Unit: "kg", SalePrice: decimal.NewFromInt(100), Active: true, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create item: %v", err)
	}

	mk := func(suffix string, typ string, qty int64, reason string) domain.StockTransaction {
		return domain.StockTransaction{
			ID: fmt.Sprintf("%s-%s", itemID, suffix), ItemID: itemID, ShopID: shopID, Type: typ,
			Quantity: decimal.NewFromInt(qty), Reason: reason, CreatedBy: "it", CreatedAt: now,
		}
	}
	results, err := s.ApplyStockTransactions(ctx, []domain.StockTransaction{
		mk("seed", domain.StockTxIn, 50, domain.ReasonPurchase),
		mk("in", domain.StockTxIn, 20, domain.ReasonPurchase),
		mk("out", domain.StockTxOut, 30, domain.ReasonDamage),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := results[2].Level.Quantity; !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected level 40, got %s", got)
	}

	replay, err := s.ApplyStockTransactions(ctx, []domain.StockTransaction{mk("out", domain.StockTxOut, 30, domain.ReasonDamage)})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay[0].Duplicate || !replay[0].Level.Quantity.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected duplicate replay at level 40, got %+v", replay[0])
	}

	resp, err := s.CommitStockTake(ctx, domain.StockTakeCommit{
		BatchID: batchID, ShopID: shopID, CreatedBy: "it", AutoAdjust: true, CreatedAt: now,
		Counts: []domain.StockCount{{ItemID: itemID, CountedQty: decimal.NewFromInt(35)}},
	})
	if err != nil {
		t.Fatalf("commit stock take: %v", err)
	}
	if len(resp.Adjustments) != 1 || !resp.Adjustments[0].Quantity.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("expected one -5 adjustment, got %+v", resp.Adjustments)
	}
	levels, err := s.GetStockLevels(ctx, shopID, []string{itemID})
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	if !levels[itemID].Quantity.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected level 35, got %s", levels[itemID].Quantity)
	}

	_, err = s.SetStockLevel(ctx, mk("set", "", 0, domain.ReasonManualSet), decimal.NewFromInt(10), levels[itemID].Version-1)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestOpenShiftEnforcesSingleOpenShift(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	userID := fmt.Sprintf("user-it-%d", stamp)
	shopID := "shop-it"
	now := time.Now().UTC()

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shift_reconciliations WHERE shift_id IN (SELECT id FROM shifts WHERE user_id = $1)`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shift_cash_movements WHERE shift_id IN (SELECT id FROM shifts WHERE user_id = $1)`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE user_id = $1`, userID)
	})

	first := domain.Shift{ID: userID + "-1", ShopID: shopID, UserID: userID, StartTime: now, EndTime: domain.OpenShiftEndTime}
	float := domain.ShiftCashMovement{
		ID: first.ID + ":float:CASH", ShiftID: first.ID, ShopID: shopID, Type: domain.CashMovementFloatIn,
		PaymentMethod: domain.PaymentCash, Amount: decimal.NewFromInt(1000), Reason: "opening float", CreatedBy: userID, CreatedAt: now,
	}
	if _, err := s.OpenShift(ctx, first, []domain.ShiftCashMovement{float}); err != nil {
		t.Fatalf("open: %v", err)
	}

	second := first
	second.ID = userID + "-2"
	if _, err := s.OpenShift(ctx, second, nil); !errors.Is(err, store.ErrShiftAlreadyOpen) {
		t.Fatalf("expected shift already open, got %v", err)
	}

	closed, err := s.CloseShift(ctx, first.ID, domain.ShiftReconciliation{
		ID: first.ID + ":rec", ShopID: shopID, ActualCash: decimal.NewFromInt(900), ActualMpesa: decimal.Zero,
		Status: domain.ReconciliationPending, CreatedBy: userID, CreatedAt: now,
	}, now)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed.Shift.IsClosed {
		t.Fatalf("expected closed shift")
	}
	if _, err := s.OpenShift(ctx, second, nil); err != nil {
		t.Fatalf("open after close: %v", err)
	}
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/store/memory"
)

var (
	adminSession   = domain.Session{UserID: "admin", Role: domain.RoleAdmin, ShopID: "main-shop"}
	cashierSession = domain.Session{UserID: "wanjiku", Role: domain.RoleCashier, ShopID: "main-shop"}
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func newTestService(t *testing.T, opts Options) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	if opts.Now == nil {
		fixed := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)
		opts.Now = func() time.Time { return fixed }
	}
	return New(repo, opts), repo
}

func mustCreateItem(t *testing.T, svc *Service, id string, price string) {
	t.Helper()
	if _, err := svc.CreateItem(context.Background(), adminSession, domain.ItemCreateRequest{
		ID:        id,
		Name:      id,
		Unit:      "unit",
		SalePrice: dec(price),
	}); err != nil {
		t.Fatalf("create item %s failed: %v", id, err)
	}
}

func mustOpenShift(t *testing.T, svc *Service, sess domain.Session, id string) domain.ShiftResponse {
	t.Helper()
	resp, err := svc.OpenShift(context.Background(), sess, domain.ShiftOpenRequest{
		ID:          id,
		OpeningCash: dec("1000"),
	})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	return resp
}

func TestStockLifecycleEndsAtCountedQuantity(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustCreateItem(t, svc, "ITEM-UNGA", "180")

	steps := []domain.StockTransactionRequest{
		{ID: "stx-opening", ItemID: "ITEM-UNGA", Type: domain.StockTxIn, Quantity: dec("50")},
		{ID: "stx-purchase", ItemID: "ITEM-UNGA", Type: domain.StockTxIn, Quantity: dec("20"), Reason: domain.ReasonPurchase},
		{ID: "stx-damage", ItemID: "ITEM-UNGA", Type: domain.StockTxOut, Quantity: dec("30"), Reason: domain.ReasonDamage},
	}
	for _, step := range steps {
		if _, err := svc.ApplyStockTransaction(ctx, adminSession, step); err != nil {
			t.Fatalf("apply %s failed: %v", step.ID, err)
		}
	}

	level, err := svc.GetStockLevel(ctx, adminSession, "ITEM-UNGA", "")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if !level.Quantity.Equal(dec("40")) {
		t.Fatalf("expected level 40 before count, got %s", level.Quantity)
	}

	resp, err := svc.SubmitStockTake(ctx, adminSession, domain.StockTakeRequest{
		BatchID:    "take-1",
		AutoAdjust: true,
		Entries:    []domain.StockTakeEntry{{ItemID: "ITEM-UNGA", CountedQty: decPtr("35")}},
	})
	if err != nil {
		t.Fatalf("stock-take failed: %v", err)
	}
	if len(resp.Lines) != 1 || !resp.Lines[0].Variance.Equal(dec("-5")) || !resp.Lines[0].Adjusted {
		t.Fatalf("unexpected stock-take lines: %+v", resp.Lines)
	}
	if len(resp.Adjustments) != 1 || !resp.Adjustments[0].Quantity.Equal(dec("-5")) {
		t.Fatalf("expected one -5 adjustment, got %+v", resp.Adjustments)
	}
	if resp.Adjustments[0].Reason != domain.ReasonStockTake {
		t.Fatalf("expected STOCK_TAKE reason, got %s", resp.Adjustments[0].Reason)
	}

	level, err = svc.GetStockLevel(ctx, adminSession, "ITEM-UNGA", "")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if !level.Quantity.Equal(dec("35")) {
		t.Fatalf("expected level overwritten to 35, got %s", level.Quantity)
	}

	replay, err := svc.SubmitStockTake(ctx, adminSession, domain.StockTakeRequest{
		BatchID:    "take-1",
		AutoAdjust: true,
		Entries:    []domain.StockTakeEntry{{ItemID: "ITEM-UNGA", CountedQty: decPtr("35")}},
	})
	if err != nil {
		t.Fatalf("replayed stock-take failed: %v", err)
	}
	if !replay.Duplicate {
		t.Fatalf("expected replayed batch to be reported as duplicate")
	}
}

func TestIncompleteStockTakeIsRejected(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	mustCreateItem(t, svc, "ITEM-MILK", "65")
	mustCreateItem(t, svc, "ITEM-BREAD", "65")

	_, err := svc.SubmitStockTake(context.Background(), adminSession, domain.StockTakeRequest{
		AutoAdjust: true,
		Entries: []domain.StockTakeEntry{
			{ItemID: "ITEM-MILK", CountedQty: decPtr("4")},
			{ItemID: "ITEM-BREAD"},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for uncounted item, got %v", err)
	}

	takes, err := svc.ListStockTakes(context.Background(), adminSession, "", 10)
	if err != nil {
		t.Fatalf("list stock takes failed: %v", err)
	}
	if len(takes) != 0 {
		t.Fatalf("expected no stock-take rows after rejection, got %d", len(takes))
	}
}

func TestStockOutWithoutLevelGoesNegative(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	mustCreateItem(t, svc, "ITEM-OIL", "340")

	res, err := svc.ApplyStockTransaction(context.Background(), cashierSession, domain.StockTransactionRequest{
		ItemID:   "ITEM-OIL",
		Type:     domain.StockTxOut,
		Quantity: dec("3"),
		Reason:   domain.ReasonExpired,
	})
	if err != nil {
		t.Fatalf("stock out failed: %v", err)
	}
	if !res.Level.Quantity.Equal(dec("-3")) {
		t.Fatalf("expected level -3, got %s", res.Level.Quantity)
	}
}

func TestStockOutRequiresReason(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	mustCreateItem(t, svc, "ITEM-OIL", "340")

	_, err := svc.ApplyStockTransaction(context.Background(), cashierSession, domain.StockTransactionRequest{
		ItemID:   "ITEM-OIL",
		Type:     domain.StockTxOut,
		Quantity: dec("1"),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDuplicateStockTransactionAppliesOnce(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustCreateItem(t, svc, "ITEM-RICE", "220")

	req := domain.StockTransactionRequest{ID: "stx-retry", ItemID: "ITEM-RICE", Type: domain.StockTxIn, Quantity: dec("10")}
	if _, err := svc.ApplyStockTransaction(ctx, adminSession, req); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	second, err := svc.ApplyStockTransaction(ctx, adminSession, req)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected retry to be a duplicate")
	}

	level, err := svc.GetStockLevel(ctx, adminSession, "ITEM-RICE", "")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if !level.Quantity.Equal(dec("10")) {
		t.Fatalf("expected level 10, got %s", level.Quantity)
	}
}

func TestConcurrentStockMovementsDoNotLoseUpdates(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustCreateItem(t, svc, "ITEM-SUGAR", "160")

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyStockTransaction(ctx, adminSession, domain.StockTransactionRequest{
				ItemID: "ITEM-SUGAR", Type: domain.StockTxIn, Quantity: dec("3"),
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := svc.ApplyStockTransaction(ctx, adminSession, domain.StockTransactionRequest{
				ItemID: "ITEM-SUGAR", Type: domain.StockTxOut, Quantity: dec("1"), Reason: domain.ReasonSale,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent apply failed: %v", err)
		}
	}

	level, err := svc.GetStockLevel(ctx, adminSession, "ITEM-SUGAR", "")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if !level.Quantity.Equal(dec("100")) {
		t.Fatalf("expected level 100, got %s", level.Quantity)
	}
}

func TestSetStockLevelRejectsStaleVersion(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustCreateItem(t, svc, "ITEM-SOAP", "120")

	res, err := svc.SetStockLevel(ctx, adminSession, "ITEM-SOAP", domain.StockLevelSetRequest{
		Quantity:        dec("12"),
		ExpectedVersion: 0,
	})
	if err != nil {
		t.Fatalf("set level failed: %v", err)
	}
	if !res.Level.Quantity.Equal(dec("12")) || res.Level.Version != 1 {
		t.Fatalf("unexpected level after set: %+v", res.Level)
	}
	if !res.Transaction.Quantity.Equal(dec("12")) || res.Transaction.Type != domain.StockTxAdjustment {
		t.Fatalf("unexpected adjustment: %+v", res.Transaction)
	}

	_, err = svc.SetStockLevel(ctx, adminSession, "ITEM-SOAP", domain.StockLevelSetRequest{
		Quantity:        dec("5"),
		ExpectedVersion: 0,
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	_, err = svc.SetStockLevel(ctx, cashierSession, "ITEM-SOAP", domain.StockLevelSetRequest{
		Quantity:        dec("5"),
		ExpectedVersion: 1,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden, got %v", err)
	}
}

func TestTransferStockMovesBetweenShops(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustCreateItem(t, svc, "ITEM-BEANS", "200")

	if _, err := svc.ApplyStockTransaction(ctx, adminSession, domain.StockTransactionRequest{
		ItemID: "ITEM-BEANS", Type: domain.StockTxIn, Quantity: dec("20"),
	}); err != nil {
		t.Fatalf("stock in failed: %v", err)
	}

	resp, err := svc.TransferStock(ctx, adminSession, domain.StockTransferRequest{
		ID:         "xfer-1",
		ItemID:     "ITEM-BEANS",
		FromShopID: "main-shop",
		ToShopID:   "branch-shop",
		Quantity:   dec("8"),
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !resp.Out.Level.Quantity.Equal(dec("12")) || !resp.In.Level.Quantity.Equal(dec("8")) {
		t.Fatalf("unexpected levels after transfer: out=%s in=%s", resp.Out.Level.Quantity, resp.In.Level.Quantity)
	}

	_, err = svc.TransferStock(ctx, cashierSession, domain.StockTransferRequest{
		ItemID:     "ITEM-BEANS",
		FromShopID: "branch-shop",
		ToShopID:   "main-shop",
		Quantity:   dec("1"),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier transfer from another shop to be forbidden, got %v", err)
	}
}

func setupTieredPricing(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	mustCreateItem(t, svc, "ITEM-CRATE", "100")
	if _, err := svc.CreatePricingRule(ctx, adminSession, domain.PricingRuleCreateRequest{
		ID:            "ipr-bulk",
		ItemID:        "ITEM-CRATE",
		OverridePrice: dec("90"),
		MinQuantity:   decPtr("10"),
	}); err != nil {
		t.Fatalf("create pricing rule failed: %v", err)
	}
	if _, err := svc.CreateDiscountRule(ctx, adminSession, domain.DiscountRuleCreateRequest{
		ID:              "qdr-ten",
		ItemID:          "ITEM-CRATE",
		MinQuantity:     dec("10"),
		DiscountPercent: decPtr("10"),
	}); err != nil {
		t.Fatalf("create discount rule failed: %v", err)
	}
}

func TestQuotePriceAppliesOverrideThenDiscount(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	setupTieredPricing(t, svc)

	quote, err := svc.QuotePrice(context.Background(), cashierSession, "ITEM-CRATE", "", dec("12"))
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !quote.UnitPrice.Equal(dec("81")) || !quote.TotalPrice.Equal(dec("972")) {
		t.Fatalf("expected 81 x 12 = 972, got %s / %s", quote.UnitPrice, quote.TotalPrice)
	}
	if quote.AppliedOverrideID != "ipr-bulk" || quote.AppliedDiscountID != "qdr-ten" {
		t.Fatalf("unexpected applied rules: %+v", quote)
	}

	small, err := svc.QuotePrice(context.Background(), cashierSession, "ITEM-CRATE", "", dec("2"))
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !small.TotalPrice.Equal(dec("200")) || small.AppliedOverrideID != "" {
		t.Fatalf("expected base price below the band, got %+v", small)
	}
}

func TestSubmitSalePricesRepeatedItemLinesIndividually(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	setupTieredPricing(t, svc)
	mustOpenShift(t, svc, cashierSession, "shift-1")

	resp, err := svc.SubmitSale(ctx, cashierSession, domain.SaleRequest{
		ID:            "sale-split-lines",
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleLineRequest{
			{ItemID: "ITEM-CRATE", Quantity: dec("5")},
			{ItemID: "ITEM-CRATE", Quantity: dec("5")},
		},
	})
	if err != nil {
		t.Fatalf("submit sale failed: %v", err)
	}
	if len(resp.Sale.Items) != 2 {
		t.Fatalf("expected two lines, got %+v", resp.Sale.Items)
	}
	for _, line := range resp.Sale.Items {
		if !line.UnitPrice.Equal(dec("100")) || line.OverrideRuleID != "" || line.DiscountRuleID != "" {
			t.Fatalf("expected each line of 5 at base price without tiers, got %+v", line)
		}
	}
	if !resp.Sale.TotalAmount.Equal(dec("1000")) {
		t.Fatalf("expected total 1000, got %s", resp.Sale.TotalAmount)
	}

	level, err := svc.GetStockLevel(ctx, cashierSession, "ITEM-CRATE", "")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if !level.Quantity.Equal(dec("-10")) {
		t.Fatalf("expected both lines deducted, got %s", level.Quantity)
	}
}

func TestSubmitSalePricesLinesAndDeductsStock(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	setupTieredPricing(t, svc)
	mustOpenShift(t, svc, cashierSession, "shift-1")

	resp, err := svc.SubmitSale(ctx, cashierSession, domain.SaleRequest{
		ID:            "sale-1",
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleLineRequest{
			{ItemID: "ITEM-CRATE", Quantity: dec("12")},
			{ItemID: "ITEM-CRATE", Quantity: dec("-4")},
		},
	})
	if err != nil {
		t.Fatalf("submit sale failed: %v", err)
	}
	if !resp.Sale.TotalAmount.Equal(dec("972")) {
		t.Fatalf("expected total 972, got %s", resp.Sale.TotalAmount)
	}
	if len(resp.Sale.Items) != 1 || resp.Sale.Items[0].OverrideRuleID != "ipr-bulk" {
		t.Fatalf("expected the negative line dropped and qty 12 priced by the override, got %+v", resp.Sale.Items)
	}
	if len(resp.Sale.Payments) != 1 || !resp.Sale.Payments[0].Amount.Equal(dec("972")) {
		t.Fatalf("unexpected payments: %+v", resp.Sale.Payments)
	}
	if resp.Sale.ShiftID != "shift-1" {
		t.Fatalf("expected sale under shift-1, got %s", resp.Sale.ShiftID)
	}

	level, err := svc.GetStockLevel(ctx, cashierSession, "ITEM-CRATE", "")
	if err != nil {
		t.Fatalf("get level failed: %v", err)
	}
	if !level.Quantity.Equal(dec("-12")) {
		t.Fatalf("expected stock deducted to -12, got %s", level.Quantity)
	}

	again, err := svc.SubmitSale(ctx, cashierSession, domain.SaleRequest{
		ID:            "sale-1",
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleLineRequest{{ItemID: "ITEM-CRATE", Quantity: dec("12")}},
	})
	if err != nil {
		t.Fatalf("retry sale failed: %v", err)
	}
	if !again.Duplicate {
		t.Fatalf("expected retried sale to be a duplicate")
	}
	level, _ = svc.GetStockLevel(ctx, cashierSession, "ITEM-CRATE", "")
	if !level.Quantity.Equal(dec("-12")) {
		t.Fatalf("expected retry not to deduct again, got %s", level.Quantity)
	}
}

func TestSubmitSaleRejectsSplitMismatch(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	mustCreateItem(t, svc, "ITEM-MILK", "65")
	mustOpenShift(t, svc, cashierSession, "shift-1")

	_, err := svc.SubmitSale(context.Background(), cashierSession, domain.SaleRequest{
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentSplit,
		CashAmount:    decPtr("100"),
		MpesaAmount:   decPtr("20"),
		Items:         []domain.SaleLineRequest{{ItemID: "ITEM-MILK", Quantity: dec("2")}},
	})
	if !errors.Is(err, store.ErrPaymentMismatch) {
		t.Fatalf("expected payment mismatch, got %v", err)
	}
}

func TestSubmitSaleRequiresOpenShift(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	mustCreateItem(t, svc, "ITEM-MILK", "65")

	_, err := svc.SubmitSale(context.Background(), cashierSession, domain.SaleRequest{
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleLineRequest{{ItemID: "ITEM-MILK", Quantity: dec("1")}},
	})
	if !errors.Is(err, store.ErrNoActiveShift) {
		t.Fatalf("expected no active shift, got %v", err)
	}
}

func TestCreditSaleRequiresCustomer(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	mustCreateItem(t, svc, "ITEM-MILK", "65")
	mustOpenShift(t, svc, cashierSession, "shift-1")

	_, err := svc.SubmitSale(context.Background(), cashierSession, domain.SaleRequest{
		Category: domain.SaleCredit,
		Items:    []domain.SaleLineRequest{{ItemID: "ITEM-MILK", Quantity: dec("1")}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestOpenShiftTwiceConflicts(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	resp := mustOpenShift(t, svc, cashierSession, "shift-1")
	if len(resp.Movements) != 1 || resp.Movements[0].Type != domain.CashMovementFloatIn {
		t.Fatalf("expected one FLOAT_IN movement, got %+v", resp.Movements)
	}

	_, err := svc.OpenShift(context.Background(), cashierSession, domain.ShiftOpenRequest{ID: "shift-2"})
	if !errors.Is(err, store.ErrShiftAlreadyOpen) {
		t.Fatalf("expected shift already open, got %v", err)
	}
}

func TestExpenseRecordsPayOutWithDescription(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustOpenShift(t, svc, cashierSession, "shift-1")

	resp, err := svc.RecordExpense(ctx, cashierSession, domain.ExpenseRequest{
		Description:   "Transport for stock",
		Amount:        dec("150"),
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("record expense failed: %v", err)
	}
	if resp.Movement.Type != domain.CashMovementPayOut || resp.Movement.Reason != "Transport for stock" {
		t.Fatalf("unexpected movement: %+v", resp.Movement)
	}
	if !resp.Movement.Amount.Equal(dec("150")) || resp.Movement.PaymentMethod != domain.PaymentCash {
		t.Fatalf("movement does not mirror the expense: %+v", resp.Movement)
	}

	if _, err := svc.RecordCashMovement(ctx, cashierSession, domain.CashMovementRequest{
		Type:          domain.CashMovementPayIn,
		PaymentMethod: domain.PaymentMpesa,
		Amount:        dec("40"),
		Reason:        "till top-up",
	}); err != nil {
		t.Fatalf("record pay-in failed: %v", err)
	}

	summary, err := svc.ShiftSummary(ctx, cashierSession, "shift-1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.PayOut.Cash.Equal(dec("150")) || !summary.PayIn.Mpesa.Equal(dec("40")) {
		t.Fatalf("unexpected summary totals: %+v", summary)
	}
	if !summary.ExpectedCash.Equal(dec("850")) || !summary.ExpectedMpesa.Equal(dec("40")) {
		t.Fatalf("unexpected expected amounts: cash=%s mpesa=%s", summary.ExpectedCash, summary.ExpectedMpesa)
	}
}

func TestCloseShiftRecordsPendingReconciliation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustOpenShift(t, svc, cashierSession, "shift-1")

	resp, err := svc.CloseShift(ctx, cashierSession, "shift-1", domain.ShiftCloseRequest{
		ActualCash:  dec("980"),
		ActualMpesa: dec("0"),
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !resp.Shift.IsClosed || resp.Reconciliation.Status != domain.ReconciliationPending {
		t.Fatalf("unexpected close response: %+v", resp)
	}

	_, err = svc.CloseShift(ctx, cashierSession, "shift-1", domain.ShiftCloseRequest{})
	if !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected shift closed, got %v", err)
	}

	_, err = svc.RecordCashMovement(ctx, cashierSession, domain.CashMovementRequest{
		Type:          domain.CashMovementPayIn,
		PaymentMethod: domain.PaymentCash,
		Amount:        dec("10"),
		Reason:        "late",
	})
	if !errors.Is(err, store.ErrNoActiveShift) {
		t.Fatalf("expected no active shift after close, got %v", err)
	}

	if _, err := svc.OpenShift(ctx, cashierSession, domain.ShiftOpenRequest{ID: "shift-2"}); err != nil {
		t.Fatalf("reopen after close failed: %v", err)
	}
}

func TestCloseShiftReplayReturnsStoredReconciliation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustOpenShift(t, svc, cashierSession, "shift-1")

	req := domain.ShiftCloseRequest{ReconciliationID: "rec-1", ActualCash: dec("990"), ActualMpesa: dec("15")}
	first, err := svc.CloseShift(ctx, cashierSession, "shift-1", req)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first close must not be a duplicate")
	}

	again, err := svc.CloseShift(ctx, cashierSession, "shift-1", req)
	if err != nil {
		t.Fatalf("replayed close failed: %v", err)
	}
	if !again.Duplicate || again.Reconciliation.ID != "rec-1" || !again.Reconciliation.ActualCash.Equal(dec("990")) {
		t.Fatalf("expected stored reconciliation returned as duplicate, got %+v", again)
	}
	if !again.Shift.IsClosed {
		t.Fatalf("expected closed shift in replay, got %+v", again.Shift)
	}

	_, err = svc.CloseShift(ctx, cashierSession, "shift-1", domain.ShiftCloseRequest{ReconciliationID: "rec-2"})
	if !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected shift closed for a new reconciliation id, got %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, adminSession, "", "2026-03-02", 100)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	closes := 0
	for _, entry := range logs {
		if entry.Action == "shift_close" {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("expected one shift_close audit entry, got %d", closes)
	}
}

func TestSubmitSaleReplayIsScopedToShop(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mustCreateItem(t, svc, "ITEM-CRATE", "100")

	branchCashier := domain.Session{UserID: "otieno", Role: domain.RoleCashier, ShopID: "branch-shop"}
	mustOpenShift(t, svc, branchCashier, "shift-branch")
	sale := domain.SaleRequest{
		ID:            "sale-branch",
		Category:      domain.SaleImmediate,
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleLineRequest{{ItemID: "ITEM-CRATE", Quantity: dec("1")}},
	}
	if _, err := svc.SubmitSale(ctx, branchCashier, sale); err != nil {
		t.Fatalf("branch sale failed: %v", err)
	}

	resp, err := svc.SubmitSale(ctx, cashierSession, sale)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected another shop's sale id to be hidden, got %+v / %v", resp, err)
	}

	replay, err := svc.SubmitSale(ctx, branchCashier, sale)
	if err != nil || !replay.Duplicate {
		t.Fatalf("expected owning shop replay to be a duplicate, got %+v / %v", replay, err)
	}
}

func TestCashierCannotActOnAnotherShop(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	if _, err := svc.ListStockLevels(ctx, cashierSession, "branch-shop"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden listing, got %v", err)
	}
	if _, err := svc.OpenShift(ctx, cashierSession, domain.ShiftOpenRequest{ShopID: "branch-shop"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden open, got %v", err)
	}
	if _, err := svc.CreateItem(ctx, cashierSession, domain.ItemCreateRequest{Name: "Tea", SalePrice: dec("50")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden item create, got %v", err)
	}
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]*domain.PricingRuleSet
	hits    int
}

func (c *mapCache) Get(_ context.Context, shopID string, itemID string) (*domain.PricingRuleSet, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rules, ok := c.entries[shopID+"/"+itemID]
	if ok {
		c.hits++
	}
	return rules, ok, nil
}

func (c *mapCache) Set(_ context.Context, shopID string, itemID string, rules *domain.PricingRuleSet, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[shopID+"/"+itemID] = rules
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, shopID string, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, shopID+"/"+itemID)
	return nil
}

func TestPricingRulesAreCachedAndInvalidatedOnWrite(t *testing.T) {
	rules := &mapCache{entries: map[string]*domain.PricingRuleSet{}}
	svc, _ := newTestService(t, Options{Cache: rules})
	ctx := context.Background()
	setupTieredPricing(t, svc)

	for i := 0; i < 2; i++ {
		if _, err := svc.QuotePrice(ctx, cashierSession, "ITEM-CRATE", "", dec("12")); err != nil {
			t.Fatalf("quote failed: %v", err)
		}
	}
	if rules.hits != 1 {
		t.Fatalf("expected second quote to hit the cache, hits=%d", rules.hits)
	}

	if _, err := svc.UpdatePricingRule(ctx, adminSession, "ipr-bulk", domain.PricingRuleUpdateRequest{
		OverridePrice: decPtr("80"),
	}); err != nil {
		t.Fatalf("update pricing rule failed: %v", err)
	}

	quote, err := svc.QuotePrice(ctx, cashierSession, "ITEM-CRATE", "", dec("10"))
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !quote.UnitPrice.Equal(dec("72")) {
		t.Fatalf("expected updated override to apply after invalidation, got %s", quote.UnitPrice)
	}
}

func TestDiscountRuleRequiresExactlyOneKind(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	mustCreateItem(t, svc, "ITEM-CRATE", "100")

	_, err := svc.CreateDiscountRule(context.Background(), adminSession, domain.DiscountRuleCreateRequest{
		ItemID:          "ITEM-CRATE",
		MinQuantity:     dec("5"),
		DiscountPercent: decPtr("5"),
		DiscountAmount:  decPtr("2"),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAuditLogRecordsAdminActions(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	mustCreateItem(t, svc, "ITEM-CRATE", "100")

	logs, err := svc.ListAuditLogs(context.Background(), adminSession, "", "2026-03-02", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "item_create" || logs[0].ActorUsername != "admin" {
		t.Fatalf("unexpected audit logs: %+v", logs)
	}

	recent, err := svc.ListAuditLogs(context.Background(), adminSession, "", "", 10)
	if err != nil {
		t.Fatalf("list recent audit logs failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected an entry written now to be in the default window, got %+v", recent)
	}

	if _, err := svc.ListAuditLogs(context.Background(), cashierSession, "", "", 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden, got %v", err)
	}
}

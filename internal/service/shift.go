package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

// OpenShift starts a shift for the session user and records one FLOAT_IN per
// non-zero opening float in the same repository call.
func (s *Service) OpenShift(ctx context.Context, sess domain.Session, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if sess.UserID == "" {
		return domain.ShiftResponse{}, fmt.Errorf("%w: user is required", store.ErrInvalidInput)
	}
	shopID, err := s.resolveShop(sess, req.ShopID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if req.OpeningCash.IsNegative() || req.OpeningMpesa.IsNegative() {
		return domain.ShiftResponse{}, fmt.Errorf("%w: opening floats must not be negative", store.ErrInvalidInput)
	}

	now := s.now()
	shift := domain.Shift{
		ID:        xid.OrNew(req.ID, "shift"),
		ShopID:    shopID,
		UserID:    sess.UserID,
		StartTime: now,
		EndTime:   domain.OpenShiftEndTime,
	}

	floats := make([]domain.ShiftCashMovement, 0, 2)
	for _, f := range []struct {
		method string
		amount decimal.Decimal
	}{
		{domain.PaymentCash, req.OpeningCash},
		{domain.PaymentMpesa, req.OpeningMpesa},
	} {
		if f.amount.IsZero() {
			continue
		}
		floats = append(floats, domain.ShiftCashMovement{
			ID:            xid.Derive(shift.ID, "float", strings.ToLower(f.method)),
			ShiftID:       shift.ID,
			ShopID:        shopID,
			Type:          domain.CashMovementFloatIn,
			PaymentMethod: f.method,
			Amount:        f.amount,
			Reason:        "opening float",
			CreatedBy:     sess.UserID,
			CreatedAt:     now,
		})
	}

	resp, err := s.repo.OpenShift(ctx, shift, floats)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if !resp.Duplicate {
		s.metrics.ShiftEvent("open")
		s.logAudit(ctx, sess, shopID, "shift_open", "shift", resp.Shift.ID,
			fmt.Sprintf("cash=%s,mpesa=%s", req.OpeningCash, req.OpeningMpesa))
	}
	return *resp, nil
}

func (s *Service) GetActiveShift(ctx context.Context, sess domain.Session, shopID string) (domain.Shift, error) {
	shopID, err := s.resolveShop(sess, shopID)
	if err != nil {
		return domain.Shift{}, err
	}
	shift, err := s.repo.GetActiveShift(ctx, sess.UserID, shopID)
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}

func (s *Service) RecordCashMovement(ctx context.Context, sess domain.Session, req domain.CashMovementRequest) (domain.CashMovementResponse, error) {
	movementType := strings.ToUpper(strings.TrimSpace(req.Type))
	if movementType != domain.CashMovementPayIn && movementType != domain.CashMovementPayOut {
		return domain.CashMovementResponse{}, fmt.Errorf("%w: type must be PAY_IN or PAY_OUT", store.ErrInvalidInput)
	}
	method, err := normalizeMethod(req.PaymentMethod)
	if err != nil {
		return domain.CashMovementResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.CashMovementResponse{}, fmt.Errorf("%w: amount must be greater than zero", store.ErrInvalidInput)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.CashMovementResponse{}, fmt.Errorf("%w: reason is required", store.ErrInvalidInput)
	}

	shift, err := s.requireShift(ctx, sess, s.sessionShop(sess))
	if err != nil {
		return domain.CashMovementResponse{}, err
	}

	resp, err := s.repo.RecordCashMovement(ctx, domain.ShiftCashMovement{
		ID:            xid.OrNew(req.ID, "scm"),
		ShiftID:       shift.ID,
		ShopID:        shift.ShopID,
		Type:          movementType,
		PaymentMethod: method,
		Amount:        req.Amount,
		Reason:        reason,
		CreatedBy:     sess.UserID,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return domain.CashMovementResponse{}, err
	}
	if !resp.Duplicate {
		s.metrics.ShiftEvent(strings.ToLower(movementType))
	}
	return *resp, nil
}

// RecordExpense writes the expense and its PAY_OUT movement together; the
// movement carries the expense description as its reason.
func (s *Service) RecordExpense(ctx context.Context, sess domain.Session, req domain.ExpenseRequest) (domain.ExpenseResponse, error) {
	method, err := normalizeMethod(req.PaymentMethod)
	if err != nil {
		return domain.ExpenseResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.ExpenseResponse{}, fmt.Errorf("%w: amount must be greater than zero", store.ErrInvalidInput)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return domain.ExpenseResponse{}, fmt.Errorf("%w: description is required", store.ErrInvalidInput)
	}

	shift, err := s.requireShift(ctx, sess, s.sessionShop(sess))
	if err != nil {
		return domain.ExpenseResponse{}, err
	}

	now := s.now()
	expense := domain.Expense{
		ID:            xid.OrNew(req.ID, "exp"),
		ShopID:        shift.ShopID,
		ShiftID:       shift.ID,
		Category:      strings.ToUpper(defaultString(req.Category, "GENERAL")),
		Description:   description,
		Amount:        req.Amount,
		PaymentMethod: method,
		CreatedBy:     sess.UserID,
		CreatedAt:     now,
	}
	movement := domain.ShiftCashMovement{
		ID:            xid.Derive(expense.ID, "payout"),
		ShiftID:       shift.ID,
		ShopID:        shift.ShopID,
		Type:          domain.CashMovementPayOut,
		PaymentMethod: method,
		Amount:        req.Amount,
		Reason:        description,
		CreatedBy:     sess.UserID,
		CreatedAt:     now,
	}

	resp, err := s.repo.RecordExpense(ctx, expense, movement)
	if err != nil {
		return domain.ExpenseResponse{}, err
	}
	if !resp.Duplicate {
		s.metrics.ShiftEvent("expense")
		s.logAudit(ctx, sess, shift.ShopID, "expense_create", "expense", resp.Expense.ID,
			fmt.Sprintf("amount=%s,method=%s", resp.Expense.Amount, method))
	}
	return *resp, nil
}

// CloseShift stores the counted closing amounts as a PENDING reconciliation
// and closes the shift. Expected amounts are not computed here. Resending a
// reconciliation id returns the stored close; any other close of a closed
// shift is ErrShiftClosed.
func (s *Service) CloseShift(ctx context.Context, sess domain.Session, shiftID string, req domain.ShiftCloseRequest) (domain.ShiftCloseResponse, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return domain.ShiftCloseResponse{}, fmt.Errorf("%w: shift_id is required", store.ErrInvalidInput)
	}
	if req.ActualCash.IsNegative() || req.ActualMpesa.IsNegative() {
		return domain.ShiftCloseResponse{}, fmt.Errorf("%w: closing amounts must not be negative", store.ErrInvalidInput)
	}

	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	if err := authorizeShift(sess, shift); err != nil {
		return domain.ShiftCloseResponse{}, err
	}

	now := s.now()
	rec := domain.ShiftReconciliation{
		ID:          xid.OrNew(req.ReconciliationID, "rec"),
		ShiftID:     shift.ID,
		ShopID:      shift.ShopID,
		ActualCash:  req.ActualCash,
		ActualMpesa: req.ActualMpesa,
		Status:      domain.ReconciliationPending,
		Notes:       strings.TrimSpace(req.Notes),
		CreatedBy:   sess.UserID,
		CreatedAt:   now,
	}
	resp, err := s.repo.CloseShift(ctx, shift.ID, rec, now)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	if resp.Duplicate {
		return *resp, nil
	}

	s.metrics.ShiftEvent("close")
	if err := s.publisher.PublishShiftClosed(ctx, *resp); err != nil {
		logger.Warn(ctx).Err(err).Str("shift_id", shift.ID).Msg("failed to publish shift close")
	}
	s.logAudit(ctx, sess, shift.ShopID, "shift_close", "shift", shift.ID,
		fmt.Sprintf("cash=%s,mpesa=%s", req.ActualCash, req.ActualMpesa))
	return *resp, nil
}

// ShiftSummary totals the shift's cash ledger and sales per method. The
// expected figures are informational for the reviewer.
func (s *Service) ShiftSummary(ctx context.Context, sess domain.Session, shiftID string) (domain.ShiftSummary, error) {
	shift, err := s.repo.GetShift(ctx, strings.TrimSpace(shiftID))
	if err != nil {
		return domain.ShiftSummary{}, err
	}
	if err := authorizeShift(sess, shift); err != nil {
		return domain.ShiftSummary{}, err
	}

	movements, err := s.repo.ListCashMovements(ctx, shift.ID)
	if err != nil {
		return domain.ShiftSummary{}, err
	}
	sales, err := s.repo.ListSalesByShift(ctx, shift.ID)
	if err != nil {
		return domain.ShiftSummary{}, err
	}

	summary := domain.ShiftSummary{
		ShiftID:     shift.ID,
		ShopID:      shift.ShopID,
		IsClosed:    shift.IsClosed,
		CreditSales: decimal.Zero,
		SaleCount:   len(sales),
	}
	for _, m := range movements {
		switch m.Type {
		case domain.CashMovementFloatIn:
			summary.FloatIn.Add(m.PaymentMethod, m.Amount)
		case domain.CashMovementPayIn:
			summary.PayIn.Add(m.PaymentMethod, m.Amount)
		case domain.CashMovementPayOut:
			summary.PayOut.Add(m.PaymentMethod, m.Amount)
		}
	}
	for _, sale := range sales {
		if sale.Category != domain.SaleImmediate {
			summary.CreditSales = summary.CreditSales.Add(sale.TotalAmount)
			continue
		}
		for _, p := range sale.Payments {
			summary.Sales.Add(p.Method, p.Amount)
		}
	}

	summary.ExpectedCash = summary.FloatIn.Cash.Add(summary.PayIn.Cash).Sub(summary.PayOut.Cash).Add(summary.Sales.Cash)
	summary.ExpectedMpesa = summary.FloatIn.Mpesa.Add(summary.PayIn.Mpesa).Sub(summary.PayOut.Mpesa).Add(summary.Sales.Mpesa)
	return summary, nil
}

func (s *Service) sessionShop(sess domain.Session) string {
	if sess.ShopID != "" {
		return sess.ShopID
	}
	return s.defaultShopID
}

// authorizeShift lets admins touch any shift and everyone else only their own.
func authorizeShift(sess domain.Session, shift *domain.Shift) error {
	if sess.IsAdmin() {
		return nil
	}
	if shift.UserID != sess.UserID || (sess.ShopID != "" && shift.ShopID != sess.ShopID) {
		return fmt.Errorf("%w: shift %s belongs to another user", ErrForbidden, shift.ID)
	}
	return nil
}

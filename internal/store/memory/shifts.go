package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

func (s *Store) OpenShift(_ context.Context, shift domain.Shift, floats []domain.ShiftCashMovement) (*domain.ShiftResponse, error) {
	if strings.TrimSpace(shift.UserID) == "" || strings.TrimSpace(shift.ShopID) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, exists := s.shiftsByID[shift.ID]; exists {
		return &domain.ShiftResponse{Shift: stored, Movements: s.movementsLocked(stored.ID), Duplicate: true}, nil
	}
	key := shiftMapKey(shift.UserID, shift.ShopID)
	if _, exists := s.activeShiftByKey[key]; exists {
		return nil, store.ErrShiftAlreadyOpen
	}

	shift.IsClosed = false
	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	for _, movement := range floats {
		s.addMovementLocked(movement)
	}
	return &domain.ShiftResponse{Shift: shift, Movements: s.movementsLocked(shift.ID)}, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) GetActiveShift(_ context.Context, userID string, shopID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByKey[shiftMapKey(userID, shopID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.IsClosed {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) RecordCashMovement(_ context.Context, movement domain.ShiftCashMovement) (*domain.CashMovementResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, exists := s.movementsByID[movement.ID]; exists {
		return &domain.CashMovementResponse{Movement: stored, Duplicate: true}, nil
	}
	if err := s.requireOpenShiftLocked(movement.ShiftID); err != nil {
		return nil, err
	}
	s.addMovementLocked(movement)
	return &domain.CashMovementResponse{Movement: movement}, nil
}

func (s *Store) RecordExpense(_ context.Context, expense domain.Expense, movement domain.ShiftCashMovement) (*domain.ExpenseResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, exists := s.expensesByID[expense.ID]; exists {
		return &domain.ExpenseResponse{Expense: stored, Movement: s.movementsByID[movement.ID], Duplicate: true}, nil
	}
	if err := s.requireOpenShiftLocked(expense.ShiftID); err != nil {
		return nil, err
	}
	s.expensesByID[expense.ID] = expense
	s.addMovementLocked(movement)
	return &domain.ExpenseResponse{Expense: expense, Movement: movement}, nil
}

func (s *Store) ListCashMovements(_ context.Context, shiftID string) ([]domain.ShiftCashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.movementsLocked(shiftID), nil
}

func (s *Store) CloseShift(_ context.Context, shiftID string, rec domain.ShiftReconciliation, closedAt time.Time) (*domain.ShiftCloseResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if stored, exists := s.reconciliations[rec.ID]; exists {
		if stored.ShiftID != shiftID {
			return nil, fmt.Errorf("%w: reconciliation %s belongs to another shift", store.ErrInvalidInput, rec.ID)
		}
		return &domain.ShiftCloseResponse{Shift: shift, Reconciliation: stored, Duplicate: true}, nil
	}
	if shift.IsClosed {
		return nil, store.ErrShiftClosed
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	shift.IsClosed = true
	shift.EndTime = closedAt
	s.shiftsByID[shiftID] = shift
	delete(s.activeShiftByKey, shiftMapKey(shift.UserID, shift.ShopID))

	rec.ShiftID = shiftID
	s.reconciliations[rec.ID] = rec
	return &domain.ShiftCloseResponse{Shift: shift, Reconciliation: rec}, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, deductions []domain.StockTransaction) (*domain.SaleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, exists := s.salesByID[sale.ID]; exists {
		return &domain.SaleResponse{Sale: cloneSale(stored), Duplicate: true}, nil
	}
	shift, exists := s.shiftsByID[sale.ShiftID]
	if !exists {
		return nil, store.ErrNoActiveShift
	}
	if shift.IsClosed {
		return nil, store.ErrShiftClosed
	}
	if err := s.checkItemsLocked(deductions); err != nil {
		return nil, err
	}

	for _, txn := range deductions {
		s.applyLocked(txn)
	}
	s.salesByID[sale.ID] = cloneSale(sale)
	s.salesByShift[sale.ShiftID] = append(s.salesByShift[sale.ShiftID], sale.ID)
	return &domain.SaleResponse{Sale: sale}, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale = cloneSale(sale)
	return &sale, nil
}

func (s *Store) ListSalesByShift(_ context.Context, shiftID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.salesByShift[shiftID]
	sales := make([]domain.Sale, 0, len(ids))
	for _, id := range ids {
		sales = append(sales, cloneSale(s.salesByID[id]))
	}
	return sales, nil
}

func (s *Store) requireOpenShiftLocked(shiftID string) error {
	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
	}
	if shift.IsClosed {
		return store.ErrShiftClosed
	}
	return nil
}

func (s *Store) addMovementLocked(movement domain.ShiftCashMovement) {
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.movementsByID[movement.ID] = movement
	s.movementsByShift[movement.ShiftID] = append(s.movementsByShift[movement.ShiftID], movement.ID)
}

func (s *Store) movementsLocked(shiftID string) []domain.ShiftCashMovement {
	ids := s.movementsByShift[shiftID]
	movements := make([]domain.ShiftCashMovement, 0, len(ids))
	for _, id := range ids {
		movements = append(movements, s.movementsByID[id])
	}
	slices.SortStableFunc(movements, func(a, b domain.ShiftCashMovement) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return movements
}

func shiftMapKey(userID string, shopID string) string {
	return userID + "|" + shopID
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = slices.Clone(src.Items)
	dst.Payments = slices.Clone(src.Payments)
	return dst
}

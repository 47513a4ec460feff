package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

const shiftColumns = `id, shop_id, user_id, start_time, end_time, is_closed`

func scanShift(row rowScanner) (domain.Shift, error) {
	var shift domain.Shift
	err := row.Scan(&shift.ID, &shift.ShopID, &shift.UserID, &shift.StartTime, &shift.EndTime, &shift.IsClosed)
	shift.StartTime = shift.StartTime.UTC()
	shift.EndTime = shift.EndTime.UTC()
	return shift, err
}

const movementColumns = `id, shift_id, shop_id, type, payment_method, amount, reason, created_by, created_at`

const reconciliationColumns = `id, shift_id, shop_id, actual_cash, actual_mpesa, status, notes, created_by, created_at`

func scanReconciliation(row rowScanner) (domain.ShiftReconciliation, error) {
	var rec domain.ShiftReconciliation
	err := row.Scan(&rec.ID, &rec.ShiftID, &rec.ShopID, &rec.ActualCash, &rec.ActualMpesa, &rec.Status, &rec.Notes, &rec.CreatedBy, &rec.CreatedAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, err
}

func scanMovement(row rowScanner) (domain.ShiftCashMovement, error) {
	var m domain.ShiftCashMovement
	err := row.Scan(&m.ID, &m.ShiftID, &m.ShopID, &m.Type, &m.PaymentMethod, &m.Amount, &m.Reason, &m.CreatedBy, &m.CreatedAt)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

// OpenShift inserts the shift and its opening floats together. The partial
// unique index on open shifts turns a concurrent second open into
// ErrShiftAlreadyOpen.
func (s *Store) OpenShift(ctx context.Context, shift domain.Shift, floats []domain.ShiftCashMovement) (*domain.ShiftResponse, error) {
	var resp *domain.ShiftResponse
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := scanShift(tx.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, shift.ID))
		switch {
		case err == nil:
			movements, err := listMovements(ctx, tx, stored.ID)
			if err != nil {
				return err
			}
			resp = &domain.ShiftResponse{Shift: stored, Movements: movements, Duplicate: true}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		shift.IsClosed = false
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shifts (`+shiftColumns+`)
			VALUES ($1,$2,$3,$4,$5,false)
		`, shift.ID, shift.ShopID, shift.UserID, shift.StartTime, shift.EndTime); err != nil {
			if isUniqueViolation(err) {
				return store.ErrShiftAlreadyOpen
			}
			return err
		}
		for _, movement := range floats {
			if err := insertMovement(ctx, tx, movement); err != nil {
				return err
			}
		}
		resp = &domain.ShiftResponse{Shift: shift, Movements: floats}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp.Movements == nil {
		resp.Movements = []domain.ShiftCashMovement{}
	}
	return resp, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) GetActiveShift(ctx context.Context, userID string, shopID string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE user_id = $1 AND shop_id = $2 AND is_closed = false
		ORDER BY start_time DESC
		LIMIT 1
	`, userID, shopID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) RecordCashMovement(ctx context.Context, movement domain.ShiftCashMovement) (*domain.CashMovementResponse, error) {
	var resp *domain.CashMovementResponse
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := scanMovement(tx.QueryRowContext(ctx, `SELECT `+movementColumns+` FROM shift_cash_movements WHERE id = $1`, movement.ID))
		switch {
		case err == nil:
			resp = &domain.CashMovementResponse{Movement: stored, Duplicate: true}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if err := requireOpenShift(ctx, tx, movement.ShiftID, store.ErrNotFound); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, movement); err != nil {
			return err
		}
		resp = &domain.CashMovementResponse{Movement: movement}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Store) RecordExpense(ctx context.Context, expense domain.Expense, movement domain.ShiftCashMovement) (*domain.ExpenseResponse, error) {
	var resp *domain.ExpenseResponse
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var stored domain.Expense
		err := tx.QueryRowContext(ctx, `
			SELECT id, shop_id, shift_id, category, description, amount, payment_method, created_by, created_at
			FROM expenses
			WHERE id = $1
		`, expense.ID).Scan(&stored.ID, &stored.ShopID, &stored.ShiftID, &stored.Category, &stored.Description,
			&stored.Amount, &stored.PaymentMethod, &stored.CreatedBy, &stored.CreatedAt)
		switch {
		case err == nil:
			storedMovement, err := scanMovement(tx.QueryRowContext(ctx, `SELECT `+movementColumns+` FROM shift_cash_movements WHERE id = $1`, movement.ID))
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			stored.CreatedAt = stored.CreatedAt.UTC()
			resp = &domain.ExpenseResponse{Expense: stored, Movement: storedMovement, Duplicate: true}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if err := requireOpenShift(ctx, tx, expense.ShiftID, store.ErrNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (id, shop_id, shift_id, category, description, amount, payment_method, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, expense.ID, expense.ShopID, expense.ShiftID, expense.Category, expense.Description,
			expense.Amount, expense.PaymentMethod, expense.CreatedBy, expense.CreatedAt); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, movement); err != nil {
			return err
		}
		resp = &domain.ExpenseResponse{Expense: expense, Movement: movement}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Store) ListCashMovements(ctx context.Context, shiftID string) ([]domain.ShiftCashMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM shift_cash_movements
		WHERE shift_id = $1
		ORDER BY created_at, id
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

// CloseShift flips the shift to closed and stores the PENDING
// reconciliation in one transaction. A reconciliation id already stored for
// this shift returns that row as a duplicate.
func (s *Store) CloseShift(ctx context.Context, shiftID string, rec domain.ShiftReconciliation, closedAt time.Time) (*domain.ShiftCloseResponse, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	var resp *domain.ShiftCloseResponse
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := scanReconciliation(tx.QueryRowContext(ctx, `SELECT `+reconciliationColumns+` FROM shift_reconciliations WHERE id = $1`, rec.ID))
		switch {
		case err == nil:
			if stored.ShiftID != shiftID {
				return fmt.Errorf("%w: reconciliation %s belongs to another shift", store.ErrInvalidInput, rec.ID)
			}
			shift, err := scanShift(tx.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, shiftID))
			if err != nil {
				return err
			}
			resp = &domain.ShiftCloseResponse{Shift: shift, Reconciliation: stored, Duplicate: true}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		shift, err := scanShift(tx.QueryRowContext(ctx, `
			UPDATE shifts
			SET is_closed = true, end_time = $2
			WHERE id = $1 AND is_closed = false
			RETURNING `+shiftColumns, shiftID, closedAt))
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE id = $1)`, shiftID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return store.ErrNotFound
			}
			return store.ErrShiftClosed
		}

		rec.ShiftID = shiftID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shift_reconciliations (id, shift_id, shop_id, actual_cash, actual_mpesa, status, notes, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, rec.ID, rec.ShiftID, rec.ShopID, rec.ActualCash, rec.ActualMpesa, rec.Status, rec.Notes, rec.CreatedBy, rec.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return store.ErrShiftClosed
			}
			return err
		}
		resp = &domain.ShiftCloseResponse{Shift: shift, Reconciliation: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// requireOpenShift share-locks the shift row so it cannot close while the
// caller's transaction writes against it. missing is returned when the shift
// does not exist.
func requireOpenShift(ctx context.Context, tx *sql.Tx, shiftID string, missing error) error {
	var closed bool
	err := tx.QueryRowContext(ctx, `SELECT is_closed FROM shifts WHERE id = $1 FOR SHARE`, shiftID).Scan(&closed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: shift %s", missing, shiftID)
		}
		return err
	}
	if closed {
		return store.ErrShiftClosed
	}
	return nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, m domain.ShiftCashMovement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO shift_cash_movements (`+movementColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.ShiftID, m.ShopID, m.Type, m.PaymentMethod, m.Amount, m.Reason, m.CreatedBy, m.CreatedAt)
	return err
}

func listMovements(ctx context.Context, tx *sql.Tx, shiftID string) ([]domain.ShiftCashMovement, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+movementColumns+` FROM shift_cash_movements WHERE shift_id = $1 ORDER BY created_at, id`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func collectMovements(rows *sql.Rows) ([]domain.ShiftCashMovement, error) {
	movements := make([]domain.ShiftCashMovement, 0, 8)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

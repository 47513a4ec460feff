package postgres

import (
	"context"
	"database/sql"
	"errors"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

const saleColumns = `id, shop_id, shift_id, customer_id, category, payment_method, total_amount, created_by, created_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var customerID, method sql.NullString
	err := row.Scan(&sale.ID, &sale.ShopID, &sale.ShiftID, &customerID, &sale.Category, &method, &sale.TotalAmount, &sale.CreatedBy, &sale.CreatedAt)
	sale.CustomerID = customerID.String
	sale.PaymentMethod = method.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, err
}

// CreateSale writes the sale, its lines and payments, and applies the stock
// deductions in one transaction. A sale id that already exists is returned
// as stored.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, deductions []domain.StockTransaction) (*domain.SaleResponse, error) {
	var resp *domain.SaleResponse
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := loadSale(ctx, tx, sale.ID)
		switch {
		case err == nil:
			resp = &domain.SaleResponse{Sale: *stored, Duplicate: true}
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := requireOpenShift(ctx, tx, sale.ShiftID, store.ErrNoActiveShift); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (`+saleColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, sale.ID, sale.ShopID, sale.ShiftID, nullIfEmpty(sale.CustomerID), sale.Category, nullIfEmpty(sale.PaymentMethod),
			sale.TotalAmount, sale.CreatedBy, sale.CreatedAt); err != nil {
			return err
		}
		for i, line := range sale.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (id, sale_id, line_no, item_id, quantity, unit_price, total_price, override_rule_id, discount_rule_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, line.ID, sale.ID, i+1, line.ItemID, line.Quantity, line.UnitPrice, line.TotalPrice,
				nullIfEmpty(line.OverrideRuleID), nullIfEmpty(line.DiscountRuleID)); err != nil {
				if isForeignKeyViolation(err) {
					return store.ErrNotFound
				}
				return err
			}
		}
		for i, payment := range sale.Payments {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_payments (id, sale_id, line_no, method, amount)
				VALUES ($1,$2,$3,$4,$5)
			`, payment.ID, sale.ID, i+1, payment.Method, payment.Amount); err != nil {
				return err
			}
		}
		for _, txn := range sortedDeductions(deductions) {
			if _, err := applyStockTransaction(ctx, tx, txn); err != nil {
				return err
			}
		}
		resp = &domain.SaleResponse{Sale: sale}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id)
}

func (s *Store) ListSalesByShift(ctx context.Context, shiftID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE shift_id = $1
		ORDER BY created_at, id
	`, shiftID)
	if err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range sales {
		if err := loadSaleChildren(ctx, s.db, &sales[i]); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

func loadSale(ctx context.Context, q querier, id string) (*domain.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := loadSaleChildren(ctx, q, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func loadSaleChildren(ctx context.Context, q querier, sale *domain.Sale) error {
	itemRows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, item_id, quantity, unit_price, total_price, override_rule_id, discount_rule_id
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, sale.ID)
	if err != nil {
		return err
	}
	sale.Items = make([]domain.SaleItem, 0, 8)
	for itemRows.Next() {
		var line domain.SaleItem
		var overrideID, discountID sql.NullString
		if err := itemRows.Scan(&line.ID, &line.SaleID, &line.ItemID, &line.Quantity, &line.UnitPrice, &line.TotalPrice, &overrideID, &discountID); err != nil {
			_ = itemRows.Close()
			return err
		}
		line.OverrideRuleID = overrideID.String
		line.DiscountRuleID = discountID.String
		sale.Items = append(sale.Items, line)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return err
	}
	_ = itemRows.Close()

	paymentRows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, method, amount
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY line_no
	`, sale.ID)
	if err != nil {
		return err
	}
	defer paymentRows.Close()

	sale.Payments = make([]domain.SalePayment, 0, 2)
	for paymentRows.Next() {
		var payment domain.SalePayment
		if err := paymentRows.Scan(&payment.ID, &payment.SaleID, &payment.Method, &payment.Amount); err != nil {
			return err
		}
		sale.Payments = append(sale.Payments, payment)
	}
	return paymentRows.Err()
}

package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		sale_price NUMERIC(14,2) NOT NULL,
		cost_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS item_pricing_rules (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		shop_id TEXT NOT NULL,
		override_price NUMERIC(14,2) NOT NULL,
		min_quantity NUMERIC(18,3),
		max_quantity NUMERIC(18,3),
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS item_pricing_rules_shop_item ON item_pricing_rules (shop_id, item_id)`,
	`CREATE TABLE IF NOT EXISTS quantity_discount_rules (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		shop_id TEXT NOT NULL,
		min_quantity NUMERIC(18,3) NOT NULL,
		discount_percent NUMERIC(5,2),
		discount_amount NUMERIC(14,2),
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK ((discount_percent IS NULL) <> (discount_amount IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS quantity_discount_rules_shop_item ON quantity_discount_rules (shop_id, item_id)`,
	`CREATE TABLE IF NOT EXISTS stock_levels (
		item_id TEXT NOT NULL REFERENCES items(id),
		shop_id TEXT NOT NULL,
		quantity NUMERIC(18,3) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (item_id, shop_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_transactions (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		shop_id TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity NUMERIC(18,3) NOT NULL,
		quantity_before NUMERIC(18,3) NOT NULL,
		quantity_after NUMERIC(18,3) NOT NULL,
		reason TEXT NOT NULL,
		supplier_id TEXT,
		reference TEXT,
		shift_id TEXT,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_transactions_shop_created ON stock_transactions (shop_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS stock_takes (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		item_id TEXT NOT NULL REFERENCES items(id),
		shop_id TEXT NOT NULL,
		shift_id TEXT,
		expected_qty NUMERIC(18,3) NOT NULL,
		counted_qty NUMERIC(18,3) NOT NULL,
		variance NUMERIC(18,3) NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		adjusted BOOLEAN NOT NULL DEFAULT false,
		adjustment_id TEXT,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_takes_batch ON stock_takes (batch_id)`,
	`CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		is_closed BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + openShiftIndex + ` ON shifts (user_id, shop_id) WHERE NOT is_closed`,
	`CREATE TABLE IF NOT EXISTS shift_cash_movements (
		id TEXT PRIMARY KEY,
		shift_id TEXT NOT NULL REFERENCES shifts(id),
		shop_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS shift_cash_movements_shift ON shift_cash_movements (shift_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		shift_id TEXT NOT NULL REFERENCES shifts(id),
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		payment_method TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS shift_reconciliations (
		id TEXT PRIMARY KEY,
		shift_id TEXT NOT NULL UNIQUE REFERENCES shifts(id),
		shop_id TEXT NOT NULL,
		actual_cash NUMERIC(14,2) NOT NULL,
		actual_mpesa NUMERIC(14,2) NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		shift_id TEXT NOT NULL REFERENCES shifts(id),
		customer_id TEXT,
		category TEXT NOT NULL,
		payment_method TEXT,
		total_amount NUMERIC(14,2) NOT NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sales_shift ON sales (shift_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		line_no INT NOT NULL,
		item_id TEXT NOT NULL REFERENCES items(id),
		quantity NUMERIC(18,3) NOT NULL,
		unit_price NUMERIC(14,2) NOT NULL,
		total_price NUMERIC(14,2) NOT NULL,
		override_rule_id TEXT,
		discount_rule_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sale_payments (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		line_no INT NOT NULL,
		method TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_shop_created ON audit_logs (shop_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		shop_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

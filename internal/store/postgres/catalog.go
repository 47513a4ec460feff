package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

const itemColumns = `id, name, unit, sale_price, cost_price, active, created_at, updated_at`

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.Name, &item.Unit, &item.SalePrice, &item.CostPrice, &item.Active, &item.CreatedAt, &item.UpdatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE ($1 = false OR active = true)
		ORDER BY name, id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	return result, rows.Err()
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" || item.Name == "" {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, unit, sale_price, cost_price, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, item.ID, item.Name, item.Unit, item.SalePrice, item.CostPrice, item.Active, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: item %s already exists", store.ErrInvalidInput, item.ID)
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET sale_price = $2, cost_price = $3, active = $4, updated_at = $5
		WHERE id = $1
	`, item.ID, item.SalePrice, item.CostPrice, item.Active, item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

const pricingRuleColumns = `id, item_id, shop_id, override_price, min_quantity, max_quantity, active, created_at, updated_at`

func scanPricingRule(row rowScanner) (domain.ItemPricingRule, error) {
	var rule domain.ItemPricingRule
	var minQty, maxQty decimal.NullDecimal
	if err := row.Scan(&rule.ID, &rule.ItemID, &rule.ShopID, &rule.OverridePrice, &minQty, &maxQty, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return rule, err
	}
	rule.MinQuantity = decimalPtr(minQty)
	rule.MaxQuantity = decimalPtr(maxQty)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return rule, nil
}

// ruleWhere builds the shared WHERE clause for rule listings.
func ruleWhere(filter domain.RuleFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := make([]any, 0, 3)
	if filter.ShopID != "" {
		args = append(args, filter.ShopID)
		clauses = append(clauses, fmt.Sprintf("shop_id = $%d", len(args)))
	}
	if len(filter.ItemIDs) > 0 {
		args = append(args, filter.ItemIDs)
		clauses = append(clauses, fmt.Sprintf("item_id = ANY($%d)", len(args)))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "active = true")
	}
	return strings.Join(clauses, " AND "), args
}

func (s *Store) ListPricingRules(ctx context.Context, filter domain.RuleFilter) ([]domain.ItemPricingRule, error) {
	where, args := ruleWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+pricingRuleColumns+` FROM item_pricing_rules WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.ItemPricingRule, 0, 16)
	for rows.Next() {
		rule, err := scanPricingRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) GetPricingRule(ctx context.Context, id string) (*domain.ItemPricingRule, error) {
	rule, err := scanPricingRule(s.db.QueryRowContext(ctx, `SELECT `+pricingRuleColumns+` FROM item_pricing_rules WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (s *Store) CreatePricingRule(ctx context.Context, rule domain.ItemPricingRule) (*domain.ItemPricingRule, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_pricing_rules (`+pricingRuleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rule.ID, rule.ItemID, rule.ShopID, rule.OverridePrice, nullDecimal(rule.MinQuantity), nullDecimal(rule.MaxQuantity), rule.Active, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return nil, mapRuleWriteError(err, rule.ID, rule.ItemID)
	}
	return &rule, nil
}

func (s *Store) UpdatePricingRule(ctx context.Context, rule domain.ItemPricingRule) (*domain.ItemPricingRule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE item_pricing_rules
		SET override_price = $2, min_quantity = $3, max_quantity = $4, active = $5, updated_at = $6
		WHERE id = $1
	`, rule.ID, rule.OverridePrice, nullDecimal(rule.MinQuantity), nullDecimal(rule.MaxQuantity), rule.Active, rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrNotFound
	}
	return &rule, nil
}

const discountRuleColumns = `id, item_id, shop_id, min_quantity, discount_percent, discount_amount, active, created_at, updated_at`

func scanDiscountRule(row rowScanner) (domain.QuantityDiscountRule, error) {
	var rule domain.QuantityDiscountRule
	var pct, amount decimal.NullDecimal
	if err := row.Scan(&rule.ID, &rule.ItemID, &rule.ShopID, &rule.MinQuantity, &pct, &amount, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return rule, err
	}
	rule.DiscountPercent = decimalPtr(pct)
	rule.DiscountAmount = decimalPtr(amount)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return rule, nil
}

func (s *Store) ListDiscountRules(ctx context.Context, filter domain.RuleFilter) ([]domain.QuantityDiscountRule, error) {
	where, args := ruleWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+discountRuleColumns+` FROM quantity_discount_rules WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.QuantityDiscountRule, 0, 16)
	for rows.Next() {
		rule, err := scanDiscountRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) GetDiscountRule(ctx context.Context, id string) (*domain.QuantityDiscountRule, error) {
	rule, err := scanDiscountRule(s.db.QueryRowContext(ctx, `SELECT `+discountRuleColumns+` FROM quantity_discount_rules WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (s *Store) CreateDiscountRule(ctx context.Context, rule domain.QuantityDiscountRule) (*domain.QuantityDiscountRule, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quantity_discount_rules (`+discountRuleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rule.ID, rule.ItemID, rule.ShopID, rule.MinQuantity, nullDecimal(rule.DiscountPercent), nullDecimal(rule.DiscountAmount), rule.Active, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return nil, mapRuleWriteError(err, rule.ID, rule.ItemID)
	}
	return &rule, nil
}

func (s *Store) UpdateDiscountRule(ctx context.Context, rule domain.QuantityDiscountRule) (*domain.QuantityDiscountRule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quantity_discount_rules
		SET min_quantity = $2, discount_percent = $3, discount_amount = $4, active = $5, updated_at = $6
		WHERE id = $1
	`, rule.ID, rule.MinQuantity, nullDecimal(rule.DiscountPercent), nullDecimal(rule.DiscountAmount), rule.Active, rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrNotFound
	}
	return &rule, nil
}

func mapRuleWriteError(err error, ruleID string, itemID string) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: rule %s already exists", store.ErrInvalidInput, ruleID)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	default:
		return err
	}
}

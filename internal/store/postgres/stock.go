package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/reconcile"
	"dukapos/backend/internal/store"
)

const stockTxColumns = `id, item_id, shop_id, type, quantity, quantity_before, quantity_after, reason,
	supplier_id, reference, shift_id, created_by, created_at`

func scanStockTransaction(row rowScanner) (domain.StockTransaction, error) {
	var txn domain.StockTransaction
	var supplierID, reference, shiftID sql.NullString
	err := row.Scan(&txn.ID, &txn.ItemID, &txn.ShopID, &txn.Type, &txn.Quantity, &txn.QuantityBefore, &txn.QuantityAfter,
		&txn.Reason, &supplierID, &reference, &shiftID, &txn.CreatedBy, &txn.CreatedAt)
	txn.SupplierID = supplierID.String
	txn.Reference = reference.String
	txn.ShiftID = shiftID.String
	txn.CreatedAt = txn.CreatedAt.UTC()
	return txn, err
}

func scanStockLevel(row rowScanner) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := row.Scan(&level.ItemID, &level.ShopID, &level.Quantity, &level.Version, &level.UpdatedAt)
	level.UpdatedAt = level.UpdatedAt.UTC()
	return level, err
}

func (s *Store) ListStockLevels(ctx context.Context, shopID string) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, shop_id, quantity, version, updated_at
		FROM stock_levels
		WHERE shop_id = $1
		ORDER BY item_id
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 128)
	for rows.Next() {
		level, err := scanStockLevel(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

func (s *Store) GetStockLevels(ctx context.Context, shopID string, itemIDs []string) (map[string]domain.StockLevel, error) {
	result := make(map[string]domain.StockLevel, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, shop_id, quantity, version, updated_at
		FROM stock_levels
		WHERE shop_id = $1 AND item_id = ANY($2)
	`, shopID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		level, err := scanStockLevel(rows)
		if err != nil {
			return nil, err
		}
		result[level.ItemID] = level
	}
	return result, rows.Err()
}

func (s *Store) ApplyStockTransactions(ctx context.Context, txns []domain.StockTransaction) ([]domain.StockTransactionResult, error) {
	results := make([]domain.StockTransactionResult, 0, len(txns))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, txn := range txns {
			res, err := applyStockTransaction(ctx, tx, txn)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) SetStockLevel(ctx context.Context, txn domain.StockTransaction, quantity decimal.Decimal, expectedVersion int64) (*domain.StockTransactionResult, error) {
	var result domain.StockTransactionResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if stored, found, err := findStockTransaction(ctx, tx, txn.ID); err != nil {
			return err
		} else if found {
			level, err := readLevel(ctx, tx, stored.ShopID, stored.ItemID)
			if err != nil {
				return err
			}
			result = domain.StockTransactionResult{Transaction: stored, Level: level, Duplicate: true}
			return nil
		}

		current, err := lockLevel(ctx, tx, txn.ShopID, txn.ItemID, txn.CreatedAt)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: expected %d, found %d", store.ErrVersionConflict, expectedVersion, current.Version)
		}

		txn.Type = domain.StockTxAdjustment
		txn.Quantity = quantity.Sub(current.Quantity)
		result, err = overwriteLevel(ctx, tx, txn, current, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) ListStockTransactions(ctx context.Context, filter domain.StockTransactionFilter) ([]domain.StockTransaction, error) {
	clauses := []string{"1=1"}
	args := make([]any, 0, 4)
	for column, value := range map[string]string{"shop_id": filter.ShopID, "item_id": filter.ItemID, "type": filter.Type} {
		if value == "" {
			continue
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockTxColumns+`
		FROM stock_transactions
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY created_at DESC, id DESC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.StockTransaction, 0, limit)
	for rows.Next() {
		txn, err := scanStockTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// CommitStockTake locks every counted level in item order, reads the
// expected quantities under those locks and writes the stock-take rows,
// overwrites and ADJUSTMENT transactions in one transaction.
func (s *Store) CommitStockTake(ctx context.Context, commit domain.StockTakeCommit) (*domain.StockTakeResponse, error) {
	var resp *domain.StockTakeResponse
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := loadStockTakeBatch(ctx, tx, commit.BatchID)
		if err != nil {
			return err
		}
		if stored != nil {
			stored.Duplicate = true
			resp = stored
			return nil
		}

		at := commit.CreatedAt
		if at.IsZero() {
			at = time.Now().UTC()
			commit.CreatedAt = at
		}
		current := make(map[string]domain.StockLevel, len(commit.Counts))
		expected := make(map[string]decimal.Decimal, len(commit.Counts))
		for _, itemID := range reconcile.ItemIDs(commit) {
			level, err := lockLevel(ctx, tx, commit.ShopID, itemID, at)
			if err != nil {
				return err
			}
			current[itemID] = level
			expected[itemID] = level.Quantity
		}

		takes, adjustments := reconcile.Materialize(commit, reconcile.Plan(commit.Counts, expected, commit.AutoAdjust))
		for _, take := range takes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stock_takes (
					id, batch_id, item_id, shop_id, shift_id, expected_qty, counted_qty, variance,
					notes, adjusted, adjustment_id, created_by, created_at
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			`, take.ID, take.BatchID, take.ItemID, take.ShopID, nullIfEmpty(take.ShiftID), take.ExpectedQty, take.CountedQty, take.Variance,
				take.Notes, take.Adjusted, nullIfEmpty(take.AdjustmentID), take.CreatedBy, take.CreatedAt); err != nil {
				return err
			}
		}
		for i, adj := range adjustments {
			res, err := overwriteLevel(ctx, tx, adj, current[adj.ItemID], adj.QuantityAfter)
			if err != nil {
				return err
			}
			adjustments[i] = res.Transaction
		}

		resp = &domain.StockTakeResponse{
			BatchID:     commit.BatchID,
			ShopID:      commit.ShopID,
			Lines:       takes,
			Adjustments: adjustments,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Store) ListStockTakes(ctx context.Context, shopID string, limit int) ([]domain.StockTake, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockTakeColumns+`
		FROM stock_takes
		WHERE shop_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectStockTakes(rows, limit)
}

const stockTakeColumns = `id, batch_id, item_id, shop_id, shift_id, expected_qty, counted_qty, variance,
	notes, adjusted, adjustment_id, created_by, created_at`

func collectStockTakes(rows *sql.Rows, capacity int) ([]domain.StockTake, error) {
	takes := make([]domain.StockTake, 0, capacity)
	for rows.Next() {
		var take domain.StockTake
		var shiftID, adjustmentID sql.NullString
		if err := rows.Scan(&take.ID, &take.BatchID, &take.ItemID, &take.ShopID, &shiftID, &take.ExpectedQty, &take.CountedQty, &take.Variance,
			&take.Notes, &take.Adjusted, &adjustmentID, &take.CreatedBy, &take.CreatedAt); err != nil {
			return nil, err
		}
		take.ShiftID = shiftID.String
		take.AdjustmentID = adjustmentID.String
		take.CreatedAt = take.CreatedAt.UTC()
		takes = append(takes, take)
	}
	return takes, rows.Err()
}

// loadStockTakeBatch returns the stored batch, or nil when batchID is new.
func loadStockTakeBatch(ctx context.Context, tx *sql.Tx, batchID string) (*domain.StockTakeResponse, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+stockTakeColumns+` FROM stock_takes WHERE batch_id = $1 ORDER BY item_id`, batchID)
	if err != nil {
		return nil, err
	}
	takes, err := collectStockTakes(rows, 16)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	if len(takes) == 0 {
		return nil, nil
	}

	adjRows, err := tx.QueryContext(ctx, `
		SELECT `+stockTxColumns+`
		FROM stock_transactions
		WHERE reference = $1 AND type = $2 AND reason = $3
		ORDER BY item_id
	`, batchID, domain.StockTxAdjustment, domain.ReasonStockTake)
	if err != nil {
		return nil, err
	}
	defer adjRows.Close()

	adjustments := make([]domain.StockTransaction, 0, len(takes))
	for adjRows.Next() {
		txn, err := scanStockTransaction(adjRows)
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, txn)
	}
	if err := adjRows.Err(); err != nil {
		return nil, err
	}
	return &domain.StockTakeResponse{BatchID: batchID, ShopID: takes[0].ShopID, Lines: takes, Adjustments: adjustments}, nil
}

// applyStockTransaction moves the level by txn.Delta() with a single atomic
// upsert and records txn with the before and after quantities it produced.
// A transaction id that already exists is returned as stored.
func applyStockTransaction(ctx context.Context, tx *sql.Tx, txn domain.StockTransaction) (domain.StockTransactionResult, error) {
	if stored, found, err := findStockTransaction(ctx, tx, txn.ID); err != nil {
		return domain.StockTransactionResult{}, err
	} else if found {
		level, err := readLevel(ctx, tx, stored.ShopID, stored.ItemID)
		if err != nil {
			return domain.StockTransactionResult{}, err
		}
		return domain.StockTransactionResult{Transaction: stored, Level: level, Duplicate: true}, nil
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	delta := txn.Delta()
	level, err := scanStockLevel(tx.QueryRowContext(ctx, `
		INSERT INTO stock_levels (item_id, shop_id, quantity, version, updated_at)
		VALUES ($1,$2,$3,1,$4)
		ON CONFLICT (item_id, shop_id)
		DO UPDATE SET
			quantity = stock_levels.quantity + EXCLUDED.quantity,
			version = stock_levels.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING item_id, shop_id, quantity, version, updated_at
	`, txn.ItemID, txn.ShopID, delta, txn.CreatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.StockTransactionResult{}, fmt.Errorf("%w: item %s", store.ErrNotFound, txn.ItemID)
		}
		return domain.StockTransactionResult{}, err
	}

	txn.QuantityAfter = level.Quantity
	txn.QuantityBefore = level.Quantity.Sub(delta)
	if err := insertStockTransaction(ctx, tx, txn); err != nil {
		return domain.StockTransactionResult{}, err
	}
	return domain.StockTransactionResult{Transaction: txn, Level: level}, nil
}

// lockLevel makes sure a level row exists for (shop, item) and locks it. A
// fresh row starts at quantity 0 and version 0.
func lockLevel(ctx context.Context, tx *sql.Tx, shopID string, itemID string, at time.Time) (domain.StockLevel, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_levels (item_id, shop_id, quantity, version, updated_at)
		VALUES ($1,$2,0,0,$3)
		ON CONFLICT (item_id, shop_id) DO NOTHING
	`, itemID, shopID, at); err != nil {
		if isForeignKeyViolation(err) {
			return domain.StockLevel{}, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
		}
		return domain.StockLevel{}, err
	}
	return scanStockLevel(tx.QueryRowContext(ctx, `
		SELECT item_id, shop_id, quantity, version, updated_at
		FROM stock_levels
		WHERE item_id = $1 AND shop_id = $2
		FOR UPDATE
	`, itemID, shopID))
}

// overwriteLevel sets a locked level to target and records txn as the
// ADJUSTMENT that moved it there from current.
func overwriteLevel(ctx context.Context, tx *sql.Tx, txn domain.StockTransaction, current domain.StockLevel, target decimal.Decimal) (domain.StockTransactionResult, error) {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	level, err := scanStockLevel(tx.QueryRowContext(ctx, `
		UPDATE stock_levels
		SET quantity = $3, version = version + 1, updated_at = $4
		WHERE item_id = $1 AND shop_id = $2
		RETURNING item_id, shop_id, quantity, version, updated_at
	`, txn.ItemID, txn.ShopID, target, txn.CreatedAt))
	if err != nil {
		return domain.StockTransactionResult{}, err
	}

	txn.QuantityBefore = current.Quantity
	txn.QuantityAfter = level.Quantity
	txn.Quantity = level.Quantity.Sub(current.Quantity)
	if err := insertStockTransaction(ctx, tx, txn); err != nil {
		return domain.StockTransactionResult{}, err
	}
	return domain.StockTransactionResult{Transaction: txn, Level: level}, nil
}

func insertStockTransaction(ctx context.Context, tx *sql.Tx, txn domain.StockTransaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_transactions (`+stockTxColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, txn.ID, txn.ItemID, txn.ShopID, txn.Type, txn.Quantity, txn.QuantityBefore, txn.QuantityAfter, txn.Reason,
		nullIfEmpty(txn.SupplierID), nullIfEmpty(txn.Reference), nullIfEmpty(txn.ShiftID), txn.CreatedBy, txn.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		// A concurrent request with the same id committed first; a retry
		// will see it as a duplicate.
		return fmt.Errorf("%w: stock transaction %s written concurrently", store.ErrVersionConflict, txn.ID)
	}
	return err
}

func findStockTransaction(ctx context.Context, tx *sql.Tx, id string) (domain.StockTransaction, bool, error) {
	txn, err := scanStockTransaction(tx.QueryRowContext(ctx, `SELECT `+stockTxColumns+` FROM stock_transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockTransaction{}, false, nil
		}
		return domain.StockTransaction{}, false, err
	}
	return txn, true, nil
}

func readLevel(ctx context.Context, tx *sql.Tx, shopID string, itemID string) (domain.StockLevel, error) {
	level, err := scanStockLevel(tx.QueryRowContext(ctx, `
		SELECT item_id, shop_id, quantity, version, updated_at
		FROM stock_levels
		WHERE item_id = $1 AND shop_id = $2
	`, itemID, shopID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockLevel{ItemID: itemID, ShopID: shopID}, nil
	}
	return level, err
}

// sortedDeductions orders stock writes by item so concurrent transactions
// take row locks in the same order.
func sortedDeductions(txns []domain.StockTransaction) []domain.StockTransaction {
	sorted := slices.Clone(txns)
	slices.SortStableFunc(sorted, func(a, b domain.StockTransaction) int {
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return sorted
}

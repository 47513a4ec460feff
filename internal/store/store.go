package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrPaymentMismatch  = errors.New("payment allocation does not match sale total")
	ErrShiftAlreadyOpen = errors.New("shift already open for user and shop")
	ErrShiftClosed      = errors.New("shift is closed")
	ErrNoActiveShift    = errors.New("active shift required")
	ErrVersionConflict  = errors.New("stock level version mismatch")
)

type Repository interface {
	ListItems(ctx context.Context, activeOnly bool) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)

	ListPricingRules(ctx context.Context, filter domain.RuleFilter) ([]domain.ItemPricingRule, error)
	GetPricingRule(ctx context.Context, id string) (*domain.ItemPricingRule, error)
	CreatePricingRule(ctx context.Context, rule domain.ItemPricingRule) (*domain.ItemPricingRule, error)
	UpdatePricingRule(ctx context.Context, rule domain.ItemPricingRule) (*domain.ItemPricingRule, error)
	ListDiscountRules(ctx context.Context, filter domain.RuleFilter) ([]domain.QuantityDiscountRule, error)
	GetDiscountRule(ctx context.Context, id string) (*domain.QuantityDiscountRule, error)
	CreateDiscountRule(ctx context.Context, rule domain.QuantityDiscountRule) (*domain.QuantityDiscountRule, error)
	UpdateDiscountRule(ctx context.Context, rule domain.QuantityDiscountRule) (*domain.QuantityDiscountRule, error)

	ListStockLevels(ctx context.Context, shopID string) ([]domain.StockLevel, error)
	GetStockLevels(ctx context.Context, shopID string, itemIDs []string) (map[string]domain.StockLevel, error)
	// ApplyStockTransactions applies every delta as an atomic increment in one
	// transaction. Transactions whose id already exists are returned as stored
	// and not applied again.
	ApplyStockTransactions(ctx context.Context, txns []domain.StockTransaction) ([]domain.StockTransactionResult, error)
	// SetStockLevel overwrites the level when its version equals
	// expectedVersion and records txn (an ADJUSTMENT) with the resulting delta.
	SetStockLevel(ctx context.Context, txn domain.StockTransaction, quantity decimal.Decimal, expectedVersion int64) (*domain.StockTransactionResult, error)
	ListStockTransactions(ctx context.Context, filter domain.StockTransactionFilter) ([]domain.StockTransaction, error)
	CommitStockTake(ctx context.Context, commit domain.StockTakeCommit) (*domain.StockTakeResponse, error)
	ListStockTakes(ctx context.Context, shopID string, limit int) ([]domain.StockTake, error)

	OpenShift(ctx context.Context, shift domain.Shift, floats []domain.ShiftCashMovement) (*domain.ShiftResponse, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, userID string, shopID string) (*domain.Shift, error)
	RecordCashMovement(ctx context.Context, movement domain.ShiftCashMovement) (*domain.CashMovementResponse, error)
	RecordExpense(ctx context.Context, expense domain.Expense, movement domain.ShiftCashMovement) (*domain.ExpenseResponse, error)
	ListCashMovements(ctx context.Context, shiftID string) ([]domain.ShiftCashMovement, error)
	CloseShift(ctx context.Context, shiftID string, rec domain.ShiftReconciliation, closedAt time.Time) (*domain.ShiftCloseResponse, error)

	// CreateSale persists the sale with its lines and payments and deducts
	// stock for every line in the same transaction.
	CreateSale(ctx context.Context, sale domain.Sale, deductions []domain.StockTransaction) (*domain.SaleResponse, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSalesByShift(ctx context.Context, shiftID string) ([]domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

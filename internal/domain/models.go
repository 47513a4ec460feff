package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts and quantities travel as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// OpenShiftEndTime is the end_time placeholder carried by a shift until it closes.
var OpenShiftEndTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	SalePrice decimal.Decimal `json:"sale_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ItemCreateRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	SalePrice decimal.Decimal `json:"sale_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

// ItemUpdateRequest only touches price fields; identity is immutable once
// historical transactions reference the item.
type ItemUpdateRequest struct {
	SalePrice *decimal.Decimal `json:"sale_price,omitempty"`
	CostPrice *decimal.Decimal `json:"cost_price,omitempty"`
	Active    *bool            `json:"active,omitempty"`
}

type ItemPricingRule struct {
	ID            string           `json:"id"`
	ItemID        string           `json:"item_id"`
	ShopID        string           `json:"shop_id"`
	OverridePrice decimal.Decimal  `json:"override_price"`
	MinQuantity   *decimal.Decimal `json:"min_quantity"`
	MaxQuantity   *decimal.Decimal `json:"max_quantity"`
	Active        bool             `json:"active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type PricingRuleCreateRequest struct {
	ID            string           `json:"id"`
	ItemID        string           `json:"item_id"`
	ShopID        string           `json:"shop_id"`
	OverridePrice decimal.Decimal  `json:"override_price"`
	MinQuantity   *decimal.Decimal `json:"min_quantity,omitempty"`
	MaxQuantity   *decimal.Decimal `json:"max_quantity,omitempty"`
	Active        *bool            `json:"active,omitempty"`
}

type PricingRuleUpdateRequest struct {
	OverridePrice    *decimal.Decimal `json:"override_price,omitempty"`
	MinQuantity      *decimal.Decimal `json:"min_quantity,omitempty"`
	MaxQuantity      *decimal.Decimal `json:"max_quantity,omitempty"`
	ClearMinQuantity bool             `json:"clear_min_quantity,omitempty"`
	ClearMaxQuantity bool             `json:"clear_max_quantity,omitempty"`
	Active           *bool            `json:"active,omitempty"`
}

type QuantityDiscountRule struct {
	ID              string           `json:"id"`
	ItemID          string           `json:"item_id"`
	ShopID          string           `json:"shop_id"`
	MinQuantity     decimal.Decimal  `json:"min_quantity"`
	DiscountPercent *decimal.Decimal `json:"discount_percent"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount"`
	Active          bool             `json:"active"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type DiscountRuleCreateRequest struct {
	ID              string           `json:"id"`
	ItemID          string           `json:"item_id"`
	ShopID          string           `json:"shop_id"`
	MinQuantity     decimal.Decimal  `json:"min_quantity"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
	Active          *bool            `json:"active,omitempty"`
}

// DiscountRuleUpdateRequest switches kind when the other kind is supplied:
// setting DiscountAmount clears the percentage and vice versa.
type DiscountRuleUpdateRequest struct {
	MinQuantity     *decimal.Decimal `json:"min_quantity,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
	Active          *bool            `json:"active,omitempty"`
}

type RuleFilter struct {
	ItemIDs    []string
	ShopID     string
	ActiveOnly bool
}

// PricingRuleSet is every rule scoped to one (item, shop).
type PricingRuleSet struct {
	Overrides []ItemPricingRule      `json:"overrides"`
	Discounts []QuantityDiscountRule `json:"discounts"`
}

type PriceQuote struct {
	ItemID            string          `json:"item_id"`
	ShopID            string          `json:"shop_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	BasePrice         decimal.Decimal `json:"base_price"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	AppliedOverrideID string          `json:"applied_override_id,omitempty"`
	AppliedDiscountID string          `json:"applied_discount_id,omitempty"`
}

type StockLevel struct {
	ItemID    string          `json:"item_id"`
	ShopID    string          `json:"shop_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type StockTransaction struct {
	ID             string          `json:"id"`
	ItemID         string          `json:"item_id"`
	ShopID         string          `json:"shop_id"`
	Type           string          `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	QuantityBefore decimal.Decimal `json:"quantity_before"`
	QuantityAfter  decimal.Decimal `json:"quantity_after"`
	Reason         string          `json:"reason"`
	SupplierID     string          `json:"supplier_id,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	ShiftID        string          `json:"shift_id,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Delta is the signed change the transaction applies to its stock level.
func (t StockTransaction) Delta() decimal.Decimal {
	switch t.Type {
	case StockTxOut, StockTxTransferOut:
		return t.Quantity.Neg()
	default:
		return t.Quantity
	}
}

type StockTransactionRequest struct {
	ID         string          `json:"id"`
	ItemID     string          `json:"item_id"`
	ShopID     string          `json:"shop_id"`
	Type       string          `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason"`
	SupplierID string          `json:"supplier_id,omitempty"`
	Reference  string          `json:"reference,omitempty"`
}

type StockTransactionResult struct {
	Transaction StockTransaction `json:"transaction"`
	Level       StockLevel       `json:"level"`
	Duplicate   bool             `json:"duplicate"`
}

type StockTransactionFilter struct {
	ShopID string
	ItemID string
	Type   string
	Limit  int
}

type StockTransferRequest struct {
	ID         string          `json:"id"`
	ItemID     string          `json:"item_id"`
	FromShopID string          `json:"from_shop_id"`
	ToShopID   string          `json:"to_shop_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reference  string          `json:"reference,omitempty"`
}

type StockTransferResponse struct {
	Out       StockTransactionResult `json:"out"`
	In        StockTransactionResult `json:"in"`
	Duplicate bool                   `json:"duplicate"`
}

// StockLevelSetRequest writes an absolute quantity guarded by the level
// version the caller last read.
type StockLevelSetRequest struct {
	ID              string          `json:"id"`
	ShopID          string          `json:"shop_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	ExpectedVersion int64           `json:"expected_version"`
	Reason          string          `json:"reason"`
}

type StockTakeEntry struct {
	ItemID     string           `json:"item_id"`
	CountedQty *decimal.Decimal `json:"counted_qty"`
	Notes      string           `json:"notes,omitempty"`
}

type StockTakeRequest struct {
	BatchID    string           `json:"batch_id"`
	ShopID     string           `json:"shop_id"`
	Notes      string           `json:"notes,omitempty"`
	AutoAdjust bool             `json:"auto_adjust"`
	Entries    []StockTakeEntry `json:"entries"`
}

type StockCount struct {
	ItemID     string
	CountedQty decimal.Decimal
	Notes      string
}

// StockTakeCommit is a validated stock-take batch handed to the repository,
// which reads expected quantities and writes every row in one transaction.
type StockTakeCommit struct {
	BatchID    string
	ShopID     string
	ShiftID    string
	CreatedBy  string
	AutoAdjust bool
	Counts     []StockCount
	CreatedAt  time.Time
}

type StockTake struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batch_id"`
	ItemID       string          `json:"item_id"`
	ShopID       string          `json:"shop_id"`
	ShiftID      string          `json:"shift_id,omitempty"`
	ExpectedQty  decimal.Decimal `json:"expected_qty"`
	CountedQty   decimal.Decimal `json:"counted_qty"`
	Variance     decimal.Decimal `json:"variance"`
	Notes        string          `json:"notes,omitempty"`
	Adjusted     bool            `json:"adjusted"`
	AdjustmentID string          `json:"adjustment_id,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type StockTakeResponse struct {
	BatchID     string             `json:"batch_id"`
	ShopID      string             `json:"shop_id"`
	Lines       []StockTake        `json:"lines"`
	Adjustments []StockTransaction `json:"adjustments"`
	Duplicate   bool               `json:"duplicate"`
}

type Shift struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	UserID    string    `json:"user_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsClosed  bool      `json:"is_closed"`
}

type ShiftOpenRequest struct {
	ID           string          `json:"id"`
	ShopID       string          `json:"shop_id"`
	OpeningCash  decimal.Decimal `json:"opening_cash"`
	OpeningMpesa decimal.Decimal `json:"opening_mpesa"`
}

type ShiftResponse struct {
	Shift     Shift               `json:"shift"`
	Movements []ShiftCashMovement `json:"movements"`
	Duplicate bool                `json:"duplicate"`
}

type ShiftCashMovement struct {
	ID            string          `json:"id"`
	ShiftID       string          `json:"shift_id"`
	ShopID        string          `json:"shop_id"`
	Type          string          `json:"type"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CashMovementRequest struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

type CashMovementResponse struct {
	Movement  ShiftCashMovement `json:"movement"`
	Duplicate bool              `json:"duplicate"`
}

type Expense struct {
	ID            string          `json:"id"`
	ShopID        string          `json:"shop_id"`
	ShiftID       string          `json:"shift_id"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ExpenseRequest struct {
	ID            string          `json:"id"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

type ExpenseResponse struct {
	Expense   Expense           `json:"expense"`
	Movement  ShiftCashMovement `json:"movement"`
	Duplicate bool              `json:"duplicate"`
}

type ShiftCloseRequest struct {
	ReconciliationID string          `json:"reconciliation_id"`
	ActualCash       decimal.Decimal `json:"actual_cash"`
	ActualMpesa      decimal.Decimal `json:"actual_mpesa"`
	Notes            string          `json:"notes,omitempty"`
}

type ShiftReconciliation struct {
	ID          string          `json:"id"`
	ShiftID     string          `json:"shift_id"`
	ShopID      string          `json:"shop_id"`
	ActualCash  decimal.Decimal `json:"actual_cash"`
	ActualMpesa decimal.Decimal `json:"actual_mpesa"`
	Status      string          `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ShiftCloseResponse struct {
	Shift          Shift               `json:"shift"`
	Reconciliation ShiftReconciliation `json:"reconciliation"`
	Duplicate      bool                `json:"duplicate"`
}

type MethodTotals struct {
	Cash  decimal.Decimal `json:"cash"`
	Mpesa decimal.Decimal `json:"mpesa"`
}

// Add credits amount to the bucket for method; unknown methods are ignored.
func (m *MethodTotals) Add(method string, amount decimal.Decimal) {
	switch method {
	case PaymentCash:
		m.Cash = m.Cash.Add(amount)
	case PaymentMpesa:
		m.Mpesa = m.Mpesa.Add(amount)
	}
}

type ShiftSummary struct {
	ShiftID       string          `json:"shift_id"`
	ShopID        string          `json:"shop_id"`
	IsClosed      bool            `json:"is_closed"`
	FloatIn       MethodTotals    `json:"float_in"`
	PayIn         MethodTotals    `json:"pay_in"`
	PayOut        MethodTotals    `json:"pay_out"`
	Sales         MethodTotals    `json:"sales"`
	CreditSales   decimal.Decimal `json:"credit_sales"`
	SaleCount     int             `json:"sale_count"`
	ExpectedCash  decimal.Decimal `json:"expected_cash"`
	ExpectedMpesa decimal.Decimal `json:"expected_mpesa"`
}

type Sale struct {
	ID            string          `json:"id"`
	ShopID        string          `json:"shop_id"`
	ShiftID       string          `json:"shift_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Category      string          `json:"category"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []SaleItem      `json:"items"`
	Payments      []SalePayment   `json:"payments"`
}

type SaleItem struct {
	ID             string          `json:"id"`
	SaleID         string          `json:"sale_id"`
	ItemID         string          `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	OverrideRuleID string          `json:"override_rule_id,omitempty"`
	DiscountRuleID string          `json:"discount_rule_id,omitempty"`
}

type SalePayment struct {
	ID     string          `json:"id"`
	SaleID string          `json:"sale_id"`
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type SaleLineRequest struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type SaleRequest struct {
	ID            string            `json:"id"`
	CustomerID    string            `json:"customer_id,omitempty"`
	Category      string            `json:"category"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	CashAmount    *decimal.Decimal  `json:"cash_amount,omitempty"`
	MpesaAmount   *decimal.Decimal  `json:"mpesa_amount,omitempty"`
	Items         []SaleLineRequest `json:"items"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

// Session identifies who is acting, at which shop and under which shift.
// It is passed explicitly into every service operation.
type Session struct {
	UserID  string
	Role    string
	ShopID  string
	ShiftID string
}

func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	ShopID   string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	ShopID   string `json:"shop_id"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ShopID    string    `json:"shop_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	ShopID    string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ShopID        string    `json:"shop_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	StockTxIn          = "IN"
	StockTxOut         = "OUT"
	StockTxAdjustment  = "ADJUSTMENT"
	StockTxTransferIn  = "TRANSFER_IN"
	StockTxTransferOut = "TRANSFER_OUT"
)

const (
	ReasonPurchase  = "PURCHASE"
	ReasonReturn    = "RETURN"
	ReasonDamage    = "DAMAGE"
	ReasonExpired   = "EXPIRED"
	ReasonSale      = "SALE"
	ReasonStockTake = "STOCK_TAKE"
	ReasonTransfer  = "TRANSFER"
	ReasonManualSet = "MANUAL_SET"
)

const (
	CashMovementFloatIn = "FLOAT_IN"
	CashMovementPayIn   = "PAY_IN"
	CashMovementPayOut  = "PAY_OUT"
)

const (
	PaymentCash  = "CASH"
	PaymentMpesa = "MPESA"
	PaymentSplit = "SPLIT"
)

const (
	SaleImmediate = "IMMEDIATE"
	SaleCredit    = "CREDIT"
	SalePrepaid   = "PREPAID"
)

const (
	ReconciliationPending    = "PENDING"
	ReconciliationReconciled = "RECONCILED"
)

package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	items         map[string]domain.Item
	pricingRules  map[string]domain.ItemPricingRule
	discountRules map[string]domain.QuantityDiscountRule

	levels      map[string]map[string]domain.StockLevel
	stockTxByID map[string]domain.StockTransaction
	stockTxLog  []string
	takesByID   map[string]domain.StockTake
	takeLog     []string
	batches     map[string]domain.StockTakeResponse

	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	movementsByID    map[string]domain.ShiftCashMovement
	movementsByShift map[string][]string
	expensesByID     map[string]domain.Expense
	reconciliations  map[string]domain.ShiftReconciliation

	salesByID    map[string]domain.Sale
	salesByShift map[string][]string

	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store with no users or catalog.
func New() *Store {
	return &Store{
		items:            make(map[string]domain.Item),
		pricingRules:     make(map[string]domain.ItemPricingRule),
		discountRules:    make(map[string]domain.QuantityDiscountRule),
		levels:           make(map[string]map[string]domain.StockLevel),
		stockTxByID:      make(map[string]domain.StockTransaction),
		stockTxLog:       make([]string, 0, 128),
		takesByID:        make(map[string]domain.StockTake),
		takeLog:          make([]string, 0, 64),
		batches:          make(map[string]domain.StockTakeResponse),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		movementsByID:    make(map[string]domain.ShiftCashMovement),
		movementsByShift: make(map[string][]string),
		expensesByID:     make(map[string]domain.Expense),
		reconciliations:  make(map[string]domain.ShiftReconciliation),
		salesByID:        make(map[string]domain.Sale),
		salesByShift:     make(map[string][]string),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo catalog stocked at shopID and the
// dev admin and cashier accounts.
func NewSeeded(shopID string) *Store {
	s := New()
	now := time.Now().UTC()

	catalog := []domain.Item{
		{ID: "ITEM-UNGA-2KG", Name: "Maize Flour 2kg", Unit: "pack", SalePrice: decimal.NewFromInt(180), CostPrice: decimal.NewFromInt(150)},
		{ID: "ITEM-SUGAR-1KG", Name: "Sugar", Unit: "kg", SalePrice: decimal.NewFromInt(160), CostPrice: decimal.NewFromInt(135)},
		{ID: "ITEM-RICE-1KG", Name: "Pishori Rice", Unit: "kg", SalePrice: decimal.NewFromInt(220), CostPrice: decimal.NewFromInt(185)},
		{ID: "ITEM-OIL-1L", Name: "Cooking Oil 1L", Unit: "bottle", SalePrice: decimal.NewFromInt(340), CostPrice: decimal.NewFromInt(290)},
		{ID: "ITEM-MILK-500", Name: "Fresh Milk 500ml", Unit: "packet", SalePrice: decimal.NewFromInt(65), CostPrice: decimal.NewFromInt(52)},
		{ID: "ITEM-BREAD-400", Name: "White Bread 400g", Unit: "loaf", SalePrice: decimal.NewFromInt(65), CostPrice: decimal.NewFromInt(55)},
		{ID: "ITEM-SOAP-BAR", Name: "Bar Soap", Unit: "bar", SalePrice: decimal.NewFromInt(120), CostPrice: decimal.NewFromInt(95)},
		{ID: "ITEM-BEANS-1KG", Name: "Rosecoco Beans", Unit: "kg", SalePrice: decimal.NewFromInt(200), CostPrice: decimal.NewFromInt(160)},
	}

	s.levels[shopID] = make(map[string]domain.StockLevel, len(catalog))
	for _, item := range catalog {
		item.Active = true
		item.CreatedAt = now
		item.UpdatedAt = now
		s.items[item.ID] = item
		s.levels[shopID][item.ID] = domain.StockLevel{
			ItemID:    item.ID,
			ShopID:    shopID,
			Quantity:  decimal.NewFromInt(100),
			Version:   1,
			UpdatedAt: now,
		}
	}
	s.usersByUsername = seedUsers(shopID)
	return s
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back to fixed dev
// defaults with a warning. Production runs on postgres and never calls this.
func seedUsers(shopID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			ShopID:    shopID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListItems(_ context.Context, activeOnly bool) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if activeOnly && !item.Active {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" || item.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) ListPricingRules(_ context.Context, filter domain.RuleFilter) ([]domain.ItemPricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]domain.ItemPricingRule, 0)
	for _, rule := range s.pricingRules {
		if !matchesRule(filter, rule.ItemID, rule.ShopID, rule.Active) {
			continue
		}
		rules = append(rules, clonePricingRule(rule))
	}
	slices.SortFunc(rules, func(a, b domain.ItemPricingRule) int {
		return strings.Compare(a.ID, b.ID)
	})
	return rules, nil
}

func (s *Store) GetPricingRule(_ context.Context, id string) (*domain.ItemPricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.pricingRules[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	rule = clonePricingRule(rule)
	return &rule, nil
}

func (s *Store) CreatePricingRule(_ context.Context, rule domain.ItemPricingRule) (*domain.ItemPricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[rule.ItemID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.pricingRules[rule.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.pricingRules[rule.ID] = clonePricingRule(rule)
	return &rule, nil
}

func (s *Store) UpdatePricingRule(_ context.Context, rule domain.ItemPricingRule) (*domain.ItemPricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pricingRules[rule.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.pricingRules[rule.ID] = clonePricingRule(rule)
	return &rule, nil
}

func (s *Store) ListDiscountRules(_ context.Context, filter domain.RuleFilter) ([]domain.QuantityDiscountRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]domain.QuantityDiscountRule, 0)
	for _, rule := range s.discountRules {
		if !matchesRule(filter, rule.ItemID, rule.ShopID, rule.Active) {
			continue
		}
		rules = append(rules, cloneDiscountRule(rule))
	}
	slices.SortFunc(rules, func(a, b domain.QuantityDiscountRule) int {
		return strings.Compare(a.ID, b.ID)
	})
	return rules, nil
}

func (s *Store) GetDiscountRule(_ context.Context, id string) (*domain.QuantityDiscountRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.discountRules[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	rule = cloneDiscountRule(rule)
	return &rule, nil
}

func (s *Store) CreateDiscountRule(_ context.Context, rule domain.QuantityDiscountRule) (*domain.QuantityDiscountRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[rule.ItemID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.discountRules[rule.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.discountRules[rule.ID] = cloneDiscountRule(rule)
	return &rule, nil
}

func (s *Store) UpdateDiscountRule(_ context.Context, rule domain.QuantityDiscountRule) (*domain.QuantityDiscountRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.discountRules[rule.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.discountRules[rule.ID] = cloneDiscountRule(rule)
	return &rule, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if shopID != "" && entry.ShopID != shopID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func matchesRule(filter domain.RuleFilter, itemID string, shopID string, active bool) bool {
	if filter.ActiveOnly && !active {
		return false
	}
	if filter.ShopID != "" && shopID != filter.ShopID {
		return false
	}
	if len(filter.ItemIDs) > 0 && !slices.Contains(filter.ItemIDs, itemID) {
		return false
	}
	return true
}

func clonePricingRule(src domain.ItemPricingRule) domain.ItemPricingRule {
	dst := src
	dst.MinQuantity = cloneDecimal(src.MinQuantity)
	dst.MaxQuantity = cloneDecimal(src.MaxQuantity)
	return dst
}

func cloneDiscountRule(src domain.QuantityDiscountRule) domain.QuantityDiscountRule {
	dst := src
	dst.DiscountPercent = cloneDecimal(src.DiscountPercent)
	dst.DiscountAmount = cloneDecimal(src.DiscountAmount)
	return dst
}

func cloneDecimal(src *decimal.Decimal) *decimal.Decimal {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

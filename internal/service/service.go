package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/events"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

// ErrForbidden is returned when the session's role or shop does not allow
// the operation.
var ErrForbidden = errors.New("forbidden")

type Options struct {
	Cache         cache.PricingRuleCache
	Publisher     events.Publisher
	Metrics       *metrics.Metrics
	DefaultShopID string
	PricingTTL    time.Duration
	Now           func() time.Time
}

type Service struct {
	repo          store.Repository
	cache         cache.PricingRuleCache
	publisher     events.Publisher
	metrics       *metrics.Metrics
	defaultShopID string
	pricingTTL    time.Duration
	now           func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopPricingRuleCache{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.DefaultShopID == "" {
		opts.DefaultShopID = "main-shop"
	}
	if opts.PricingTTL <= 0 {
		opts.PricingTTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:          repo,
		cache:         opts.Cache,
		publisher:     opts.Publisher,
		metrics:       opts.Metrics,
		defaultShopID: opts.DefaultShopID,
		pricingTTL:    opts.PricingTTL,
		now:           opts.Now,
	}
}

func (s *Service) DefaultShopID() string {
	return s.defaultShopID
}

func (s *Service) ListAuditLogs(ctx context.Context, sess domain.Session, shopID string, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	shopID, err := s.resolveShop(sess, shopID)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	// Without a date the window is the last 24 hours, including now.
	to := s.now().Add(time.Second)
	from := to.Add(-24 * time.Hour)
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, shopID, from, to, limit)
}

// resolveShop picks the shop an operation runs against. An empty request
// means the session's shop; only admins may name a different one.
func (s *Service) resolveShop(sess domain.Session, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		if sess.ShopID != "" {
			return sess.ShopID, nil
		}
		return s.defaultShopID, nil
	}
	if sess.ShopID != "" && requested != sess.ShopID && !sess.IsAdmin() {
		return "", fmt.Errorf("%w: shop %s is outside the session scope", ErrForbidden, requested)
	}
	return requested, nil
}

func requireAdmin(sess domain.Session) error {
	if !sess.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// requireShift returns the open shift the session works under: the one named
// by the session, or else the user's active shift at shopID.
func (s *Service) requireShift(ctx context.Context, sess domain.Session, shopID string) (*domain.Shift, error) {
	if sess.ShiftID == "" {
		shift, err := s.repo.GetActiveShift(ctx, sess.UserID, shopID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNoActiveShift
		}
		return shift, err
	}

	shift, err := s.repo.GetShift(ctx, sess.ShiftID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNoActiveShift
	}
	if err != nil {
		return nil, err
	}
	if shift.ShopID != shopID && !sess.IsAdmin() {
		return nil, fmt.Errorf("%w: shift %s belongs to shop %s", ErrForbidden, shift.ID, shift.ShopID)
	}
	if shift.UserID != sess.UserID && !sess.IsAdmin() {
		return nil, fmt.Errorf("%w: shift %s belongs to another user", ErrForbidden, shift.ID)
	}
	if shift.IsClosed {
		return nil, store.ErrShiftClosed
	}
	return shift, nil
}

func (s *Service) publishStock(ctx context.Context, txns []domain.StockTransaction) {
	if len(txns) == 0 {
		return
	}
	if err := s.publisher.PublishStockTransactions(ctx, txns); err != nil {
		logger.Warn(ctx).Err(err).Int("count", len(txns)).Msg("failed to publish stock transactions")
	}
}

func (s *Service) logAudit(ctx context.Context, sess domain.Session, shopID string, action string, entityType string, entityID string, detail string) {
	if shopID == "" {
		shopID = s.defaultShopID
	}
	username, role := sess.UserID, sess.Role
	if username == "" {
		username, role = "system", "system"
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ShopID:        shopID,
		ActorUsername: username,
		ActorRole:     role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		logger.Warn(ctx).Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

func normalizeMethod(method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case domain.PaymentCash, domain.PaymentMpesa:
		return method, nil
	case "":
		return "", fmt.Errorf("%w: payment_method is required", store.ErrInvalidInput)
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, method)
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

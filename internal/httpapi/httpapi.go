package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/service"
	"dukapos/backend/internal/store"
)

type ctxKey string

const actorKey ctxKey = "actor"

// ShiftHeader names the shift a request acts under. Without it the user's
// active shift at the session shop is used.
const ShiftHeader = "X-Shift-ID"

type Options struct {
	AllowedOrigin  string
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	loginLimiter   *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  opts.AllowedOrigin,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	// No RealIP: clientKey must see the socket address, not client-supplied
	// forwarding headers.
	r.Use(middleware.RequestID)
	r.Use(a.observe)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", a.handleHealth)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Get("/items", a.handleListItems)
			r.Post("/items", a.handleCreateItem)
			r.Patch("/items/{id}", a.handleUpdateItem)
			r.Get("/items/{id}/price", a.handleQuotePrice)

			r.Get("/item-pricing", a.handleListPricingRules)
			r.Post("/item-pricing", a.handleCreatePricingRule)
			r.Patch("/item-pricing/{id}", a.handleUpdatePricingRule)
			r.Get("/quantity-discounts", a.handleListDiscountRules)
			r.Post("/quantity-discounts", a.handleCreateDiscountRule)
			r.Patch("/quantity-discounts/{id}", a.handleUpdateDiscountRule)

			r.Get("/stock-levels", a.handleListStockLevels)
			r.Get("/stock-levels/{item_id}", a.handleGetStockLevel)
			r.Put("/stock-levels/{item_id}", a.handleSetStockLevel)
			r.Get("/stock-transactions", a.handleListStockTransactions)
			r.Post("/stock-transactions", a.handleApplyStockTransactions)
			r.Post("/stock-transfers", a.handleTransferStock)
			r.Get("/stock-takes", a.handleListStockTakes)
			r.Post("/stock-takes", a.handleSubmitStockTake)

			r.Post("/shifts", a.handleOpenShift)
			r.Get("/shifts/active", a.handleActiveShift)
			r.Patch("/shifts/{id}", a.handleCloseShift)
			r.Get("/shifts/{id}/summary", a.handleShiftSummary)
			r.Post("/shift-reconciliations", a.handleSubmitReconciliation)
			r.Post("/shift-cash-movements", a.handleCashMovement)
			r.Post("/expenses", a.handleExpense)

			r.Post("/sales", a.handleSubmitSale)
			r.Get("/sales/{id}", a.handleGetSale)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", ShiftHeader},
		MaxAge:         600,
	}).Handler(r)
}

// observe logs each request and records it in the HTTP metrics under its
// route pattern.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		elapsed := time.Since(startedAt)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		a.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		event := logger.Info(r.Context())
		if status >= http.StatusInternalServerError {
			event = logger.Error(r.Context())
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// sessionFrom builds the explicit session every service call takes.
func (a *API) sessionFrom(r *http.Request) domain.Session {
	actor, _ := r.Context().Value(actorKey).(domain.Actor)
	shopID := actor.ShopID
	if shopID == "" {
		shopID = a.service.DefaultShopID()
	}
	return domain.Session{
		UserID:  actor.Username,
		Role:    actor.Role,
		ShopID:  shopID,
		ShiftID: strings.TrimSpace(r.Header.Get(ShiftHeader)),
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// statusFor maps service and store errors onto HTTP statuses. Anything
// unrecognised is an internal failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrPaymentMismatch):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrShiftAlreadyOpen),
		errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrShiftClosed),
		errors.Is(err, store.ErrNoActiveShift):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFor(err), err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log.
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error(r.Context()).Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

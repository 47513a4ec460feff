package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dukapos/backend/internal/domain"
)

// Metrics groups the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	stockTransactions  *prometheus.CounterVec
	negativeLevels     prometheus.Counter
	stockTakeLines     *prometheus.CounterVec
	sales              *prometheus.CounterVec
	saleRejections     *prometheus.CounterVec
	shiftEvents        *prometheus.CounterVec
	pricingCacheLookup *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stockTransactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_transactions_total",
				Help: "Stock transactions applied to the ledger",
			},
			[]string{"type"},
		),
		negativeLevels: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stock_levels_negative_total",
				Help: "Stock transactions that left a level below zero",
			},
		),
		stockTakeLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_take_lines_total",
				Help: "Stock-take lines by variance direction",
			},
			[]string{"direction"},
		),
		sales: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sales_total",
				Help: "Sales persisted by category",
			},
			[]string{"category"},
		),
		saleRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sale_rejections_total",
				Help: "Sales rejected before persistence",
			},
			[]string{"reason"},
		),
		shiftEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shift_events_total",
				Help: "Shift lifecycle events",
			},
			[]string{"event"},
		),
		pricingCacheLookup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricing_cache_lookups_total",
				Help: "Pricing rule cache lookups by result",
			},
			[]string{"result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.stockTransactions,
		m.negativeLevels,
		m.stockTakeLines,
		m.sales,
		m.saleRejections,
		m.shiftEvents,
		m.pricingCacheLookup,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

func (m *Metrics) StockApplied(results []domain.StockTransactionResult) {
	if m == nil {
		return
	}
	for _, res := range results {
		if res.Duplicate {
			continue
		}
		m.stockTransactions.WithLabelValues(res.Transaction.Type).Inc()
		if res.Transaction.QuantityAfter.IsNegative() {
			m.negativeLevels.Inc()
		}
	}
}

func (m *Metrics) StockTakeCommitted(lines []domain.StockTake) {
	if m == nil {
		return
	}
	for _, line := range lines {
		direction := "match"
		switch {
		case line.Variance.IsPositive():
			direction = "surplus"
		case line.Variance.IsNegative():
			direction = "shortage"
		}
		m.stockTakeLines.WithLabelValues(direction).Inc()
		if line.Adjusted {
			m.stockTransactions.WithLabelValues(domain.StockTxAdjustment).Inc()
		}
	}
}

func (m *Metrics) SaleRecorded(category string) {
	if m == nil {
		return
	}
	m.sales.WithLabelValues(category).Inc()
}

func (m *Metrics) SaleRejected(reason string) {
	if m == nil {
		return
	}
	m.saleRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ShiftEvent(event string) {
	if m == nil {
		return
	}
	m.shiftEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) PricingCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.pricingCacheLookup.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

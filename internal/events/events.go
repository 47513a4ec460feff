package events

import (
	"context"
	"time"

	"dukapos/backend/internal/domain"
)

const (
	EventTypeStockTransaction = "stock.transaction.applied"
	EventTypeShiftClosed      = "shift.closed"
)

// Publisher emits facts after they are committed. Publishing is best-effort:
// callers log failures and never roll back on them.
type Publisher interface {
	PublishStockTransactions(ctx context.Context, txns []domain.StockTransaction) error
	PublishShiftClosed(ctx context.Context, closed domain.ShiftCloseResponse) error
}

type StockTransactionEvent struct {
	EventID     string                  `json:"event_id"`
	EventType   string                  `json:"event_type"`
	Timestamp   time.Time               `json:"timestamp"`
	Transaction domain.StockTransaction `json:"transaction"`
}

type ShiftClosedEvent struct {
	EventID        string                     `json:"event_id"`
	EventType      string                     `json:"event_type"`
	Timestamp      time.Time                  `json:"timestamp"`
	Shift          domain.Shift               `json:"shift"`
	Reconciliation domain.ShiftReconciliation `json:"reconciliation"`
}

type NoopPublisher struct{}

func (NoopPublisher) PublishStockTransactions(_ context.Context, _ []domain.StockTransaction) error {
	return nil
}

func (NoopPublisher) PublishShiftClosed(_ context.Context, _ domain.ShiftCloseResponse) error {
	return nil
}

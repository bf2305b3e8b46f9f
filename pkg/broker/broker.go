// Package broker defines the execution-backend and quote-source
// contracts the strategy engine depends on, plus the paper and Alpaca
// implementations.
package broker

import (
	"time"

	"finviztrader/pkg/model"
)

// MarketDataProvider supplies quote snapshots. Implementations may omit
// symbols they cannot price this cycle (rate limiting, halted names).
type MarketDataProvider interface {
	GetQuotes(symbols []string) (map[string]model.Quote, error)
}

// Broker is the narrow execution-backend capability the strategy uses.
type Broker interface {
	// PlaceOrder submits the order and returns the accepted copy with
	// the backend-assigned id and status.
	PlaceOrder(o *model.Order) (*model.Order, error)
	// OpenOrders lists orders still live at the backend.
	OpenOrders() ([]*model.Order, error)
	// CancelOrder requests cancellation of a live order.
	CancelOrder(id string) error
	// Advance moves the backend forward one cycle: simulated backends
	// match open orders against the quotes, live backends poll for new
	// fills and ignore the quotes.
	Advance(quotes map[string]model.Quote, useHighForLimits bool) ([]*model.Fill, error)
	// NeedsReconciliation reports whether local order/position state is
	// a read-through cache that must be refreshed from the backend.
	NeedsReconciliation() bool
}

// Holding is a backend-reported position used during reconciliation.
type Holding struct {
	Symbol        string
	Quantity      int
	AvgEntryPrice float64
	UnrealizedPL  float64
}

// Reconciler is the extended surface of backends that own the truth
// about positions and fills (live brokers).
type Reconciler interface {
	Broker
	// ListPositions returns the backend's authoritative open positions.
	ListPositions() ([]Holding, error)
	// FillsSince returns fills executed after the given time. When
	// includeProcessed is false, fills already seen by this instance
	// are filtered out and newly returned ids are remembered.
	FillsSince(after time.Time, includeProcessed bool) ([]*model.Fill, error)
	// CloseAllPositions liquidates every position, optionally
	// cancelling open orders first.
	CloseAllPositions(cancelOrders bool) error
	// SetFillWatermark advances the poll cursor so older fills are not
	// replayed by Advance.
	SetFillWatermark(t time.Time)
	// SeedProcessedFills pre-populates the instance dedupe set, e.g.
	// from persisted state after a restart.
	SeedProcessedFills(ids []string)
}

package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finviztrader/pkg/model"
)

func alpacaStatusToOrderStatus(status string) model.OrderStatus {
	switch strings.ToLower(status) {
	case "new", "pending_new":
		return model.StatusNew
	case "filled":
		return model.StatusFilled
	case "done_for_day", "canceled", "expired", "stopped":
		return model.StatusCancelled
	case "rejected":
		return model.StatusRejected
	default:
		// partially_filled, accepted, replaced, pending_cancel, ...
		return model.StatusWorking
	}
}

// AlpacaBroker executes against an Alpaca paper account. Fills are
// acquired by polling account activities with per-instance dedupe.
type AlpacaBroker struct {
	logger  *zap.Logger
	trading *alpaca.Client

	processedFills map[string]struct{}
	lastFillPoll   time.Time
}

// NewAlpacaBroker builds an Alpaca-backed broker.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, logger *zap.Logger) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &AlpacaBroker{
		logger:         logger,
		trading:        client,
		processedFills: make(map[string]struct{}),
		lastFillPoll:   time.Now().UTC().Add(-5 * time.Minute),
	}
}

// NeedsReconciliation is true: Alpaca owns the truth about positions
// and orders, local state is a read-through cache.
func (b *AlpacaBroker) NeedsReconciliation() bool { return true }

// PlaceOrder submits the order with extended hours enabled. Premarket
// venues reject unpriced market orders, so callers price those as
// limits before they get here.
func (b *AlpacaBroker) PlaceOrder(o *model.Order) (*model.Order, error) {
	qty := decimal.NewFromInt(int64(o.Quantity))
	req := alpaca.PlaceOrderRequest{
		Symbol:      o.Symbol,
		Qty:         &qty,
		TimeInForce: alpaca.Day,
	}
	if o.Side == model.Buy {
		req.Side = alpaca.Buy
	} else {
		req.Side = alpaca.Sell
	}
	if o.Type == model.Market {
		req.Type = alpaca.Market
	} else {
		req.Type = alpaca.Limit
		limitPrice := decimal.NewFromFloat(o.Price).Round(2)
		req.LimitPrice = &limitPrice
		req.ExtendedHours = true
	}

	placed, err := b.trading.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("failed to place order for %s: %w", o.Symbol, err)
	}
	accepted := o.Clone()
	accepted.ID = placed.ID
	accepted.Status = alpacaStatusToOrderStatus(string(placed.Status))
	accepted.UpdatedAt = time.Now().UTC()
	return accepted, nil
}

// OpenOrders lists the account's open orders mapped into domain orders.
func (b *AlpacaBroker) OpenOrders() ([]*model.Order, error) {
	orders, err := b.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	out := make([]*model.Order, 0, len(orders))
	for _, o := range orders {
		if o.Qty == nil {
			continue
		}
		side := model.Sell
		if o.Side == alpaca.Buy {
			side = model.Buy
		}
		typ := model.Limit
		if o.Type == alpaca.Market {
			typ = model.Market
		}
		price := 0.0
		if o.LimitPrice != nil {
			price = o.LimitPrice.InexactFloat64()
		}
		out = append(out, &model.Order{
			ID:        o.ID,
			Symbol:    o.Symbol,
			Side:      side,
			Type:      typ,
			Price:     price,
			Quantity:  int(o.Qty.IntPart()),
			Status:    alpacaStatusToOrderStatus(string(o.Status)),
			CreatedAt: o.CreatedAt,
			UpdatedAt: o.UpdatedAt,
		})
	}
	return out, nil
}

// CancelOrder cancels an order by id.
func (b *AlpacaBroker) CancelOrder(id string) error {
	if err := b.trading.CancelOrder(id); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", id, err)
	}
	return nil
}

// Advance polls account activities for fills since the watermark; the
// quotes are ignored for a live backend.
func (b *AlpacaBroker) Advance(quotes map[string]model.Quote, useHighForLimits bool) ([]*model.Fill, error) {
	fills, err := b.FillsSince(b.lastFillPoll, false)
	if err != nil {
		return nil, err
	}
	b.lastFillPoll = time.Now().UTC()
	return fills, nil
}

// ListPositions returns the account's open positions.
func (b *AlpacaBroker) ListPositions() ([]Holding, error) {
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	out := make([]Holding, 0, len(positions))
	for _, p := range positions {
		h := Holding{
			Symbol:        p.Symbol,
			Quantity:      int(p.Qty.IntPart()),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
		}
		if p.UnrealizedPL != nil {
			h.UnrealizedPL = p.UnrealizedPL.InexactFloat64()
		}
		out = append(out, h)
	}
	return out, nil
}

// CloseAllPositions liquidates the whole account.
func (b *AlpacaBroker) CloseAllPositions(cancelOrders bool) error {
	if _, err := b.trading.CloseAllPositions(alpaca.CloseAllPositionsRequest{CancelOrders: cancelOrders}); err != nil {
		return fmt.Errorf("failed to close all positions: %w", err)
	}
	return nil
}

// SetFillWatermark advances the activity poll cursor.
func (b *AlpacaBroker) SetFillWatermark(t time.Time) {
	b.lastFillPoll = t
}

// SeedProcessedFills pre-populates the dedupe set from persisted state.
func (b *AlpacaBroker) SeedProcessedFills(ids []string) {
	for _, id := range ids {
		b.processedFills[id] = struct{}{}
	}
}

// FillsSince pages through FILL account activities executed after the
// given time. Activity ids are globally unique, which makes them safe
// dedupe keys across restarts.
func (b *AlpacaBroker) FillsSince(after time.Time, includeProcessed bool) ([]*model.Fill, error) {
	var fills []*model.Fill
	const pageSize = 100
	req := alpaca.GetAccountActivitiesRequest{
		ActivityTypes: []string{"FILL"},
		After:         after,
		Direction:     "asc",
		PageSize:      pageSize,
	}
	for {
		activities, err := b.trading.GetAccountActivities(req)
		if err != nil {
			return fills, fmt.Errorf("failed to get account activities: %w", err)
		}
		if len(activities) == 0 {
			break
		}
		for _, act := range activities {
			if act.ID == "" {
				continue
			}
			if !includeProcessed {
				if _, seen := b.processedFills[act.ID]; seen {
					continue
				}
			}
			qty := int(act.Qty.IntPart())
			price := act.Price.InexactFloat64()
			if qty <= 0 || price <= 0 {
				continue
			}
			side := model.Buy
			if strings.HasPrefix(strings.ToLower(act.Side), "sell") {
				side = model.Sell
			}
			orderID := act.OrderID
			if orderID == "" {
				orderID = act.ID
			}
			ts := act.TransactionTime
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			fills = append(fills, &model.Fill{
				ID:        act.ID,
				OrderID:   orderID,
				Symbol:    act.Symbol,
				Side:      side,
				Quantity:  qty,
				Price:     price,
				Timestamp: ts,
			})
			if !includeProcessed {
				b.processedFills[act.ID] = struct{}{}
			}
		}
		if len(activities) < pageSize {
			break
		}
		req.PageToken = activities[len(activities)-1].ID
		if req.PageToken == "" {
			break
		}
	}
	return fills, nil
}

// AlpacaMarketData serves latest quotes and trades from the Alpaca
// market data API.
type AlpacaMarketData struct {
	logger *zap.Logger
	client *marketdata.Client
}

// NewAlpacaMarketData builds an Alpaca market data provider.
func NewAlpacaMarketData(apiKey, apiSecret string, logger *zap.Logger) *AlpacaMarketData {
	return &AlpacaMarketData{
		logger: logger,
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
	}
}

// GetQuotes fetches latest quotes and trades for the symbols, mapping
// them into domain quotes. Symbols that cannot be priced are omitted.
func (m *AlpacaMarketData) GetQuotes(symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote)
	if len(symbols) == 0 {
		return out, nil
	}
	quotes, err := m.client.GetLatestQuotes(symbols, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest quotes: %w", err)
	}
	trades, err := m.client.GetLatestTrades(symbols, marketdata.GetLatestTradeRequest{})
	if err != nil {
		m.logger.Debug("Latest trades unavailable, falling back to quote prices", zap.Error(err))
		trades = nil
	}
	for sym, q := range quotes {
		bid := q.BidPrice
		ask := q.AskPrice
		last := 0.0
		if tr, ok := trades[sym]; ok && tr.Price > 0 {
			last = tr.Price
		} else if ask > 0 {
			last = ask
		} else if bid > 0 {
			last = bid
		}
		if last <= 0 {
			continue
		}
		quote := model.Quote{
			Symbol:    sym,
			Bid:       bid,
			Ask:       ask,
			Last:      last,
			Timestamp: q.Timestamp,
		}
		if bid > 0 && ask > 0 {
			quote.Mid = (bid + ask) / 2
		} else {
			quote.Mid = last
		}
		out[sym] = quote
	}
	return out, nil
}

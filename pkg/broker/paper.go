package broker

import (
	"fmt"

	"go.uber.org/zap"

	"finviztrader/pkg/model"
)

// PaperBroker is an in-memory backend that approximates fills against
// polled snapshot quotes. It is a best-effort simulation, not an order
// book: market orders fill near the last trade, limit sells fill at
// their limit price once the mid (or the high-of-day, during regular
// hours) crosses it.
type PaperBroker struct {
	logger     *zap.Logger
	openOrders map[string]*model.Order
}

// NewPaperBroker builds an empty paper broker.
func NewPaperBroker(logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		logger:     logger,
		openOrders: make(map[string]*model.Order),
	}
}

// PlaceOrder accepts the order immediately and marks it WORKING.
func (b *PaperBroker) PlaceOrder(o *model.Order) (*model.Order, error) {
	accepted := o.Clone()
	accepted.MarkStatus(model.StatusWorking)
	b.openOrders[accepted.ID] = accepted
	b.logger.Debug("Order accepted",
		zap.String("side", string(accepted.Side)),
		zap.String("symbol", accepted.Symbol),
		zap.String("order_id", accepted.ID))
	return accepted, nil
}

// OpenOrders lists the orders still resting in the book.
func (b *PaperBroker) OpenOrders() ([]*model.Order, error) {
	out := make([]*model.Order, 0, len(b.openOrders))
	for _, o := range b.openOrders {
		out = append(out, o)
	}
	return out, nil
}

// CancelOrder removes a resting order.
func (b *PaperBroker) CancelOrder(id string) error {
	o, ok := b.openOrders[id]
	if !ok {
		return fmt.Errorf("order %s is not open", id)
	}
	o.MarkStatus(model.StatusCancelled)
	delete(b.openOrders, id)
	return nil
}

// NeedsReconciliation is false: local state is the source of truth.
func (b *PaperBroker) NeedsReconciliation() bool { return false }

// Advance matches resting orders against one minute of quotes and
// returns the resulting fills.
func (b *PaperBroker) Advance(quotes map[string]model.Quote, useHighForLimits bool) ([]*model.Fill, error) {
	var fills []*model.Fill
	var remove []string
	for id, order := range b.openOrders {
		quote, ok := quotes[order.Symbol]
		if !ok {
			continue
		}
		switch {
		case order.Type == model.Market:
			// Approximate the bar high for market orders.
			price := quote.Last * 1.001
			fills = append(fills, model.NewFill(order.ID, order.Symbol, order.Side, order.Quantity, price))
			remove = append(remove, id)
		case order.Type == model.Limit && order.Side == model.Sell:
			mark := quote.Mid
			if useHighForLimits && quote.High > mark {
				mark = quote.High
			}
			if order.Price > 0 && mark >= order.Price {
				// Limit orders fill at their limit price, not the mark.
				fills = append(fills, model.NewFill(order.ID, order.Symbol, order.Side, order.Quantity, order.Price))
				remove = append(remove, id)
			}
		case order.Type == model.Limit && order.Side == model.Buy:
			ask := quote.Ask
			if ask <= 0 {
				ask = quote.Last
			}
			if order.Price > 0 && ask > 0 && ask <= order.Price {
				price := quote.Last
				if price <= 0 || price > order.Price {
					price = order.Price
				}
				fills = append(fills, model.NewFill(order.ID, order.Symbol, order.Side, order.Quantity, price))
				remove = append(remove, id)
			}
		}
	}
	for _, id := range remove {
		b.openOrders[id].MarkStatus(model.StatusFilled)
		delete(b.openOrders, id)
	}
	if len(fills) > 0 {
		b.logger.Debug("Simulated fills", zap.Int("count", len(fills)))
	}
	return fills, nil
}

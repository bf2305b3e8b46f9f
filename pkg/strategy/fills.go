package strategy

import (
	"go.uber.org/zap"

	"finviztrader/pkg/model"
	"finviztrader/pkg/timeutil"
)

const tagReconciledFill = "reconciled_fill"

// processFills applies fills to orders and positions. Processing is
// idempotent: a fill id already in the dedupe set is a no-op.
func (s *Strategy) processFills(fills []*model.Fill) {
	for _, fill := range fills {
		if s.store.FillProcessed(fill.ID) {
			s.logger.Debug("Skipping already-processed fill", zap.String("fill_id", fill.ID))
			continue
		}
		order, known := s.store.GetOrder(fill.OrderID)
		skipTargets := s.reconciling
		if !known {
			// A live backend can report fills for orders we never saw
			// (e.g. placed before a restart). Keep state consistent
			// with a placeholder, but never ladder off it.
			s.logger.Warn("Fill for unknown order",
				zap.String("order_id", fill.OrderID), zap.String("symbol", fill.Symbol))
			order = &model.Order{
				ID:       fill.OrderID,
				Symbol:   fill.Symbol,
				Side:     fill.Side,
				Type:     model.Market,
				Quantity: fill.Quantity,
				Status:   model.StatusNew,
				Tags:     []string{tagReconciledFill},
			}
			skipTargets = true
			s.store.UpsertOrder(order)
		} else if order.HasTag(tagReconciledFill) {
			skipTargets = true
		}

		order.MarkStatus(model.StatusFilled)
		s.store.UpsertOrder(order)
		s.store.RecordFill(fill)
		s.store.MarkFillProcessed(fill.ID)
		s.logger.Info("Order filled",
			zap.String("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.Float64("price", fill.Price),
			zap.Int("shares", fill.Quantity))

		if order.Side == model.Buy {
			s.handleBuyFill(order, fill, skipTargets)
		} else {
			s.handleSellFill(order, fill)
		}
	}
}

func (s *Strategy) handleBuyFill(order *model.Order, fill *model.Fill, skipTargets bool) {
	position, ok := s.store.Positions[order.Symbol]
	if ok {
		position.ApplyBuyFill(fill)
	} else {
		position = &model.Position{
			Symbol:           order.Symbol,
			TotalShares:      fill.Quantity,
			AvgPrice:         fill.Price,
			CashInvested:     fill.Price * float64(fill.Quantity),
			OpenTargetOrders: []string{},
		}
	}
	position.LastEntryDate = timeutil.ISODate(s.now())

	finish := func() {
		s.store.UpsertPosition(position)
		s.store.MarkTraded(position.Symbol, position.LastEntryDate)
		s.tradeLog.LogEntry(order.Symbol, fill.Timestamp, fill.Price, fill.Quantity, order.ID)
	}

	if skipTargets || order.HasTag(tagReconciledFill) {
		s.logger.Info("Skipping targets for reconciled fill", zap.String("symbol", order.Symbol))
		finish()
		return
	}

	// Partially filled order: defer the ladder until the rest fills.
	if filled := s.store.FilledQuantityForOrder(order.ID); filled < order.Quantity {
		s.logger.Info("Deferring targets; partial fill",
			zap.String("symbol", order.Symbol),
			zap.Int("filled", filled),
			zap.Int("quantity", order.Quantity))
		finish()
		return
	}

	// Open buys for the same symbol: selling now risks broker-side
	// wash-trade rejection, so defer.
	openBuys := s.store.OrdersWhere(func(o *model.Order) bool {
		return o.Symbol == order.Symbol && o.Side == model.Buy && o.Status.Open()
	})
	if len(openBuys) > 0 {
		s.logger.Info("Deferring targets; open buy orders remain",
			zap.String("symbol", order.Symbol),
			zap.Int("open_buys", len(openBuys)))
	} else {
		s.placeTargets(position, fill.Price, position.TotalShares)
	}
	finish()
}

func (s *Strategy) handleSellFill(order *model.Order, fill *model.Fill) {
	position, ok := s.store.Positions[order.Symbol]
	if !ok {
		s.logger.Warn("Sell fill with no tracked position", zap.String("symbol", order.Symbol))
		return
	}
	avgBefore := position.AvgPrice
	position.ApplySellFill(fill)
	position.RemoveTargetOrder(order.ID)
	pnlDelta := (fill.Price - avgBefore) * float64(fill.Quantity)
	s.tradeLog.LogExitFill(order.Symbol, fill.Timestamp, fill.Price, fill.Quantity, pnlDelta, order.ID)
	if position.Closed {
		position.OpenTargetOrders = position.OpenTargetOrders[:0]
		s.logger.Info("Position fully closed",
			zap.String("symbol", position.Symbol),
			zap.Float64("realized_pnl", position.RealizedPnL))
		s.tradeLog.LogCloseSummary(position.Symbol, fill.Timestamp, position.RealizedPnL)
	}
	s.store.UpsertPosition(position)
}

// ladderTranche is one rung of the target ladder.
type ladderTranche struct {
	tag      string
	multiple float64
	quantity int
}

// splitLadder carves a share count into the four staged tranches. The
// first three take floor(quarter) each and the fourth the remainder, so
// the tranches always sum exactly to total.
func splitLadder(total int) []ladderTranche {
	quarter := total / 4
	return []ladderTranche{
		{tag: "target_10", multiple: 1.10, quantity: quarter},
		{tag: "target_20", multiple: 1.20, quantity: quarter},
		{tag: "target_50", multiple: 1.50, quantity: quarter},
		{tag: "target_100", multiple: 2.00, quantity: total - 3*quarter},
	}
}

// placeTargets creates the four staged take-profit sells: +10%, +20%,
// +50%, +100% above the entry price.
func (s *Strategy) placeTargets(position *model.Position, entryPrice float64, totalShares int) {
	if totalShares <= 0 || position.Closed {
		s.logger.Debug("No targets placed",
			zap.String("symbol", position.Symbol),
			zap.Int("shares", totalShares),
			zap.Bool("closed", position.Closed))
		return
	}
	existing := s.store.OrdersWhere(func(o *model.Order) bool {
		return o.Symbol == position.Symbol && o.Side == model.Sell && o.Status.Open()
	})
	if len(existing) > 0 {
		s.logger.Debug("Skip placing targets; sell orders already open",
			zap.String("symbol", position.Symbol),
			zap.Int("open_sells", len(existing)))
		return
	}

	for _, tranche := range splitLadder(totalShares) {
		if tranche.quantity <= 0 {
			continue
		}
		price := round2(entryPrice * tranche.multiple)
		order := model.NewOrder(position.Symbol, model.Sell, model.Limit, price, tranche.quantity, tranche.tag)
		placed, err := s.broker.PlaceOrder(order)
		if err != nil {
			s.logger.Warn("Target placement failed",
				zap.String("symbol", position.Symbol),
				zap.String("tag", tranche.tag),
				zap.Error(err))
			continue
		}
		position.OpenTargetOrders = append(position.OpenTargetOrders, placed.ID)
		s.store.UpsertOrder(placed)
		s.logger.Info("Placed target limit sell",
			zap.String("tag", tranche.tag),
			zap.String("symbol", position.Symbol),
			zap.Int("shares", tranche.quantity),
			zap.Float64("price", price))
	}
}

package strategy

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"finviztrader/pkg/broker"
	"finviztrader/pkg/model"
	"finviztrader/pkg/pnl"
	"finviztrader/pkg/timeutil"
)

// reconcileWithBroker runs at startup for live backends: broker truth
// overwrites the local caches, today's fills are marked processed so
// they are never replayed, and the fill watermark advances to now.
func (s *Strategy) reconcileWithBroker(rec broker.Reconciler) error {
	s.logger.Info("Reconciling local state with broker")
	current := s.now()
	startOfDay := time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, current.Location())

	brokerFills, err := rec.FillsSince(startOfDay.UTC(), true)
	if err != nil {
		return err
	}
	sort.Slice(brokerFills, func(i, j int) bool {
		return brokerFills[i].Timestamp.Before(brokerFills[j].Timestamp)
	})

	// Keep metrics, traded dates and the dedupe set; caches rebuild
	// from the broker.
	s.store.ResetCaches()

	for _, f := range brokerFills {
		s.store.MarkFillProcessed(f.ID)
	}

	openOrders, err := rec.OpenOrders()
	if err != nil {
		return err
	}
	for _, o := range openOrders {
		s.store.UpsertOrder(o)
	}
	s.refreshPositionsFromBroker(rec)

	rec.SetFillWatermark(time.Now().UTC())
	s.store.RecordSyncTimestamp(time.Now().UTC().Format(time.RFC3339))
	s.logger.Info("Reconciliation complete",
		zap.Int("positions", len(s.store.Positions)),
		zap.Int("open_orders", len(openOrders)))

	s.rebuildPnLLog(rec, current)
	return nil
}

// refreshStateFromBroker is the lightweight per-tick refresh: positions
// are overwritten from broker truth, open orders are upserted (existing
// terminal orders stay for fill matching), and target coverage is
// verified.
func (s *Strategy) refreshStateFromBroker(rec broker.Reconciler) {
	if !s.refreshPositionsFromBroker(rec) {
		return
	}
	openOrders, err := rec.OpenOrders()
	if err != nil {
		s.logger.Warn("Broker order refresh failed", zap.Error(err))
		return
	}
	for _, o := range openOrders {
		s.store.UpsertOrder(o)
	}
	s.ensureTargetsForPositions()
}

func (s *Strategy) refreshPositionsFromBroker(rec broker.Reconciler) bool {
	holdings, err := rec.ListPositions()
	if err != nil {
		s.logger.Warn("Broker position refresh failed", zap.Error(err))
		return false
	}
	today := timeutil.ISODate(s.now())
	s.store.Positions = make(map[string]*model.Position)
	for _, h := range holdings {
		if h.Symbol == "" || h.Quantity <= 0 {
			continue
		}
		pos := &model.Position{
			Symbol:           h.Symbol,
			TotalShares:      h.Quantity,
			AvgPrice:         h.AvgEntryPrice,
			CashInvested:     h.AvgEntryPrice * float64(h.Quantity),
			OpenTargetOrders: []string{},
			LastEntryDate:    today,
		}
		s.store.UpsertPosition(pos)
		s.store.MarkTraded(h.Symbol, today)
	}
	return true
}

// ensureTargetsForPositions verifies that every open position is fully
// covered by live sell orders with the expected ladder shape, and
// otherwise cancels the sells and re-places a ladder sized to the
// current share count. A per-symbol cooldown avoids order churn.
func (s *Strategy) ensureTargetsForPositions() {
	nowTS := time.Now().UTC()
	for sym, pos := range s.store.OpenPositions() {
		if last, ok := s.lastBackfillAttempt[sym]; ok && nowTS.Sub(last) < backfillCooldown {
			continue
		}
		if pos.TotalShares <= 0 {
			continue
		}
		openSells := s.store.OrdersWhere(func(o *model.Order) bool {
			return o.Symbol == sym && o.Side == model.Sell && o.Status.Open()
		})
		qtyOpen := 0
		for _, o := range openSells {
			qtyOpen += o.Quantity
		}
		ladderRequired := 1
		if pos.TotalShares >= 4 {
			ladderRequired = 4
		}
		if qtyOpen == pos.TotalShares && len(openSells) >= ladderRequired {
			continue
		}

		for _, o := range openSells {
			if err := s.broker.CancelOrder(o.ID); err != nil {
				s.logger.Debug("Cancel failed during target backfill",
					zap.String("symbol", sym), zap.String("order_id", o.ID), zap.Error(err))
			}
			o.MarkStatus(model.StatusCancelled)
			s.store.UpsertOrder(o)
		}

		entryPrice := pos.AvgPrice
		if entryPrice <= 0 {
			continue
		}
		missing := pos.TotalShares
		var tranches []ladderTranche
		if missing < 4 {
			// Too small for a full ladder: one swing-for-the-fences
			// tranche covering everything.
			tranches = []ladderTranche{{tag: "target_100", multiple: 2.00, quantity: missing}}
		} else {
			tranches = splitLadder(missing)
		}
		pos.OpenTargetOrders = pos.OpenTargetOrders[:0]
		for _, tranche := range tranches {
			if tranche.quantity <= 0 {
				continue
			}
			price := round2(entryPrice * tranche.multiple)
			order := model.NewOrder(sym, model.Sell, model.Limit, price, tranche.quantity, tranche.tag)
			placed, err := s.broker.PlaceOrder(order)
			if err != nil {
				s.logger.Warn("Backfill target placement failed",
					zap.String("symbol", sym), zap.String("tag", tranche.tag), zap.Error(err))
				break
			}
			pos.OpenTargetOrders = append(pos.OpenTargetOrders, placed.ID)
			s.store.UpsertOrder(placed)
			s.logger.Info("Backfilled target",
				zap.String("tag", tranche.tag),
				zap.String("symbol", sym),
				zap.Int("shares", tranche.quantity),
				zap.Float64("price", price),
				zap.Int("missing", missing))
		}
		s.store.UpsertPosition(pos)
		s.lastBackfillAttempt[sym] = nowTS
	}
}

// rebuildPnLLog reconstructs the dated trade log for the given day from
// authoritative broker fills, replaying the weighted-average math so
// exit deltas match what live processing would have produced.
func (s *Strategy) rebuildPnLLog(rec broker.Reconciler, day time.Time) {
	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	fills, err := rec.FillsSince(startOfDay.UTC(), true)
	if err != nil {
		s.logger.Warn("PnL rebuild failed to fetch fills", zap.Error(err))
		return
	}
	var dayFills []*model.Fill
	for _, f := range fills {
		if !f.Timestamp.After(endOfDay.UTC()) {
			dayFills = append(dayFills, f)
		}
	}
	if len(dayFills) == 0 {
		return
	}
	sort.Slice(dayFills, func(i, j int) bool {
		return dayFills[i].Timestamp.Before(dayFills[j].Timestamp)
	})

	type book struct {
		qty int
		avg float64
	}
	books := make(map[string]*book)
	var events []pnl.Event
	for _, f := range dayFills {
		b, ok := books[f.Symbol]
		if !ok {
			b = &book{}
			books[f.Symbol] = b
		}
		ts := f.Timestamp.Format(time.RFC3339)
		if f.Side == model.Buy {
			newQty := b.qty + f.Quantity
			if newQty > 0 {
				b.avg = (b.avg*float64(b.qty) + f.Price*float64(f.Quantity)) / float64(newQty)
			}
			b.qty = newQty
			events = append(events, pnl.Event{
				Event: pnl.EventEntry, Symbol: f.Symbol, Timestamp: ts,
				Price: f.Price, Quantity: f.Quantity, OrderID: f.OrderID,
			})
			continue
		}
		sellQty := f.Quantity
		if sellQty > b.qty {
			sellQty = b.qty
		}
		delta := 0.0
		if b.qty > 0 {
			delta = (f.Price - b.avg) * float64(sellQty)
		}
		b.qty -= sellQty
		if b.qty <= 0 {
			b.qty = 0
			b.avg = 0
		}
		events = append(events, pnl.Event{
			Event: pnl.EventExitFill, Symbol: f.Symbol, Timestamp: ts,
			Price: f.Price, Quantity: f.Quantity, PnLDelta: delta, OrderID: f.OrderID,
		})
		if b.qty == 0 {
			events = append(events, pnl.Event{
				Event: pnl.EventClose, Symbol: f.Symbol, Timestamp: ts, RealizedPnL: delta,
			})
		}
	}

	isoDate := timeutil.ISODate(day)
	if err := s.tradeLog.RewriteForDate(isoDate, events); err != nil {
		s.logger.Warn("PnL rebuild failed to write log", zap.Error(err))
		return
	}
	s.logger.Info("Rebuilt PnL log from broker fills",
		zap.String("date", isoDate), zap.Int("events", len(events)))
}

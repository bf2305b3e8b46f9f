package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"finviztrader/pkg/broker"
	"finviztrader/pkg/model"
	"finviztrader/pkg/pnl"
	"finviztrader/pkg/timeutil"
)

// RunEOD liquidates everything at the end of the trading day. Idempotent
// per calendar day: once the close completed, repeat calls return
// immediately until the date changes. A close that leaves the book
// non-flat returns an error and does NOT mark the day done, so the
// scheduler retries it next minute.
func (s *Strategy) RunEOD(ctx context.Context) error {
	current := s.now()
	today := timeutil.ISODate(current)
	if s.store.GetMetricString(metricEODDoneDate) == today {
		return nil
	}
	s.logger.Info("Starting end-of-day close", zap.String("date", today))

	var err error
	if rec, ok := s.broker.(broker.Reconciler); ok && s.broker.NeedsReconciliation() {
		err = s.closeOutWithBroker(ctx, rec, current)
	} else {
		err = s.closeOutLocally(current)
	}
	if err != nil {
		return err
	}

	s.store.SetMetric(metricEODDoneDate, today)
	s.writeDailySummary(today)
	if s.settings.EODClearState {
		s.store.ClearTransient()
		s.logger.Info("Cleared transient state for next session")
	}
	s.logger.Info("End-of-day close complete", zap.String("date", today))
	return nil
}

// closeOutLocally is the simulated path: cancel every open sell, then
// market-sell each open position and process the resulting fills in the
// same call. Any position that could not fill leaves the close
// unfinished.
func (s *Strategy) closeOutLocally(current time.Time) error {
	for _, o := range s.store.OrdersWhere(func(o *model.Order) bool {
		return o.Side == model.Sell && o.Status.Open()
	}) {
		if err := s.broker.CancelOrder(o.ID); err != nil {
			s.logger.Debug("Cancel failed during close", zap.String("order_id", o.ID), zap.Error(err))
		}
		o.MarkStatus(model.StatusCancelled)
		s.store.UpsertOrder(o)
	}

	open := s.store.OpenPositions()
	if len(open) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(open))
	for sym, pos := range open {
		order := model.NewOrder(sym, model.Sell, model.Market, 0, pos.TotalShares, "eod_close")
		placed, err := s.broker.PlaceOrder(order)
		if err != nil {
			return fmt.Errorf("eod sell for %s failed: %w", sym, err)
		}
		s.store.UpsertOrder(placed)
		symbols = append(symbols, sym)
	}

	quotes := s.getQuotes(s.fillData, symbols)
	fills, err := s.broker.Advance(quotes, false)
	if err != nil {
		return fmt.Errorf("eod fill acquisition failed: %w", err)
	}
	s.processFills(fills)

	if leftover := s.store.OpenPositions(); len(leftover) > 0 {
		stuck := make([]string, 0, len(leftover))
		for sym := range leftover {
			stuck = append(stuck, sym)
		}
		sort.Strings(stuck)
		return fmt.Errorf("eod close left positions open: %s", strings.Join(stuck, ", "))
	}
	return nil
}

// closeOutWithBroker hands liquidation to the broker and polls fills,
// positions and open orders until the account is flat or the deadline
// passes. The context interrupts the poll wait on shutdown.
func (s *Strategy) closeOutWithBroker(ctx context.Context, rec broker.Reconciler, current time.Time) error {
	if err := rec.CloseAllPositions(true); err != nil {
		return fmt.Errorf("close-all request failed: %w", err)
	}

	deadline := time.Now().Add(s.settings.EODPollTimeout)
	startOfDay := time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, current.Location())
	s.reconciling = true
	defer func() { s.reconciling = false }()

	for {
		fills, err := rec.FillsSince(startOfDay.UTC(), true)
		if err != nil {
			s.logger.Warn("EOD fill poll failed", zap.Error(err))
		} else {
			fresh := fills[:0]
			for _, f := range fills {
				if !s.store.FillProcessed(f.ID) {
					fresh = append(fresh, f)
				}
			}
			if len(fresh) > 0 {
				s.processFills(fresh)
			}
		}

		if s.accountFlat(rec) {
			s.forceClosePositions()
			s.rebuildPnLLog(rec, current)
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("eod liquidation incomplete after %s", s.settings.EODPollTimeout)
		}
		if err := s.sleep(ctx, s.settings.EODPollInterval); err != nil {
			return fmt.Errorf("eod poll interrupted: %w", err)
		}
	}
}

// accountFlat reports whether the broker shows no positions AND no open
// orders. Both must drain before the close counts as done.
func (s *Strategy) accountFlat(rec broker.Reconciler) bool {
	holdings, err := rec.ListPositions()
	if err != nil {
		s.logger.Warn("EOD position poll failed", zap.Error(err))
		return false
	}
	openOrders, err := rec.OpenOrders()
	if err != nil {
		s.logger.Warn("EOD order poll failed", zap.Error(err))
		return false
	}
	if len(holdings) == 0 && len(openOrders) == 0 {
		return true
	}
	s.logger.Info("Waiting for liquidation",
		zap.Int("open_positions", len(holdings)),
		zap.Int("open_orders", len(openOrders)))
	return false
}

// forceClosePositions flattens any tracked position the fill stream did
// not fully account for once the broker reports flat.
func (s *Strategy) forceClosePositions() {
	for _, pos := range s.store.OpenPositions() {
		pos.TotalShares = 0
		pos.AvgPrice = 0
		pos.Closed = true
		pos.OpenTargetOrders = pos.OpenTargetOrders[:0]
		s.store.UpsertPosition(pos)
		s.logger.Info("Force-closed tracked position after liquidation",
			zap.String("symbol", pos.Symbol))
	}
}

func (s *Strategy) writeDailySummary(today string) {
	path := s.tradeLog.PathForDate(today)
	var maxInvested *pnl.MaxInvested
	if value, date, ok := s.store.MaxInvestedSnapshot(); ok {
		maxInvested = &pnl.MaxInvested{Value: value, Date: date}
	}
	if _, outPath, err := pnl.SummariseAndWrite(path, maxInvested); err != nil {
		s.logger.Warn("Daily summary failed", zap.Error(err))
	} else {
		s.logger.Info("Wrote daily summary", zap.String("path", outPath))
	}
}

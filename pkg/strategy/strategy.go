// Package strategy is the decision core of the trader: the per-minute
// tick cycle, buy sizing and placement, fill-driven position updates,
// the target ladder, broker reconciliation, and end-of-day liquidation.
package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"finviztrader/pkg/broker"
	"finviztrader/pkg/config"
	"finviztrader/pkg/model"
	"finviztrader/pkg/pnl"
	"finviztrader/pkg/screener"
	"finviztrader/pkg/store"
	"finviztrader/pkg/timeutil"
)

// Metric keys for the persisted screener gate state.
const (
	metricScreenerDate      = "screener_date"
	metricScreenerSnapshot  = "screener_snapshot"
	metricScreenerRefreshed = "screener_refreshed"
	metricEODDoneDate       = "eod_done_date"
)

const backfillCooldown = 5 * time.Minute

// CandidateSource supplies the ordered candidate list, optionally with
// a reference price per symbol.
type CandidateSource interface {
	GetSymbolsWithPrices() ([]screener.SymbolPrice, error)
}

// Strategy encapsulates trading decisions: when to buy, when to place
// targets, and how to update positions from fills.
type Strategy struct {
	settings *config.Settings
	screener CandidateSource
	fillData broker.MarketDataProvider
	buyData  broker.MarketDataProvider
	broker   broker.Broker
	store    *store.Store
	logger   *zap.Logger
	tradeLog *pnl.Logger

	lastBackfillAttempt map[string]time.Time
	lastGateState       *bool
	reconciling         bool

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New wires a strategy and, for backends that own the truth about
// positions, reconciles local state with the broker before the first
// tick.
func New(
	settings *config.Settings,
	candidates CandidateSource,
	fillData broker.MarketDataProvider,
	buyData broker.MarketDataProvider,
	exec broker.Broker,
	st *store.Store,
	logger *zap.Logger,
) (*Strategy, error) {
	s := &Strategy{
		settings:            settings,
		screener:            candidates,
		fillData:            fillData,
		buyData:             buyData,
		broker:              exec,
		store:               st,
		logger:              logger,
		tradeLog:            pnl.NewLogger(settings.PnLLogFile, logger),
		lastBackfillAttempt: make(map[string]time.Time),
		now:                 func() time.Time { return time.Now().In(settings.Location()) },
		sleep:               sleepCtx,
	}
	if rec, ok := exec.(broker.Reconciler); ok && exec.NeedsReconciliation() {
		if err := s.reconcileWithBroker(rec); err != nil {
			return nil, fmt.Errorf("startup reconciliation failed: %w", err)
		}
		rec.SeedProcessedFills(st.ProcessedFillIDs())
	}
	return s, nil
}

// Tick runs one decision cycle. Safe to call with no candidates or
// open orders; upstream failures degrade to "no data this cycle".
func (s *Strategy) Tick() error {
	current := s.now()
	today := timeutil.ISODate(current)

	if rec, ok := s.broker.(broker.Reconciler); ok && s.broker.NeedsReconciliation() {
		s.refreshStateFromBroker(rec)
	}

	rows, err := s.screener.GetSymbolsWithPrices()
	if err != nil {
		return fmt.Errorf("candidate list unavailable: %w", err)
	}
	screenerSymbols := make([]string, 0, len(rows))
	referencePrices := make(map[string]float64)
	for _, row := range rows {
		screenerSymbols = append(screenerSymbols, row.Symbol)
		if row.Price > 0 {
			referencePrices[row.Symbol] = row.Price
		}
	}

	openPositions := s.store.OpenPositions()
	pendingBuys := make(map[string]bool)
	for _, o := range s.store.Orders {
		if o.Side == model.Buy && o.Status.Open() {
			pendingBuys[o.Symbol] = true
		}
	}
	tradedToday := make(map[string]bool)
	for sym, pos := range s.store.Positions {
		if pos.LastEntryDate == today {
			tradedToday[sym] = true
		}
	}
	// The traded-date guard survives a state reset that clears
	// positions, so consult it as well.
	for _, sym := range screenerSymbols {
		if s.store.TradedOn(sym, today) {
			tradedToday[sym] = true
		}
	}

	screenerOK := s.evaluateRefreshGate(screenerSymbols, today)

	var buyCandidates []string
	if screenerOK {
		for _, sym := range screenerSymbols {
			if _, held := openPositions[sym]; held {
				continue
			}
			if pendingBuys[sym] || tradedToday[sym] {
				continue
			}
			buyCandidates = append(buyCandidates, sym)
		}
	}

	var openOrderSymbols []string
	for _, o := range s.store.Orders {
		if o.Status.Open() {
			openOrderSymbols = append(openOrderSymbols, o.Symbol)
		}
	}

	buyQuotes := make(map[string]model.Quote)
	placedSymbols := make(map[string]bool)
	if len(buyCandidates) > 0 {
		buyQuotes = s.getQuotes(s.buyData, buyCandidates)
		placedSymbols = s.placeBuys(buyCandidates, buyQuotes, current, referencePrices)
		// Optional quick poll so same-minute fills get their targets
		// without waiting for the next tick.
		if len(placedSymbols) > 0 && s.settings.PostBuyFillPoll > 0 {
			_ = s.sleep(context.Background(), s.settings.PostBuyFillPoll)
			quick := make(map[string]model.Quote)
			for sym := range placedSymbols {
				if q, ok := buyQuotes[sym]; ok {
					quick[sym] = q
				}
			}
			if fills, err := s.broker.Advance(quick, false); err != nil {
				s.logger.Debug("Quick post-buy fill poll failed", zap.Error(err))
			} else if len(fills) > 0 {
				s.processFills(fills)
			}
		}
	}

	combined := make(map[string]model.Quote)
	if len(openOrderSymbols) > 0 {
		for sym, q := range s.getQuotes(s.fillData, openOrderSymbols) {
			combined[sym] = q
		}
	}
	for sym := range placedSymbols {
		if q, ok := buyQuotes[sym]; ok {
			combined[sym] = q
		}
	}
	// Positions without open orders still get quoted so their
	// mark-to-market metrics stay current.
	var missing []string
	for sym := range openPositions {
		if _, ok := combined[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	if len(missing) > 0 {
		for sym, q := range s.getQuotes(s.buyData, missing) {
			combined[sym] = q
		}
	}

	s.recordDailyMetrics(openPositions, combined, today)

	if len(combined) == 0 {
		return nil
	}

	// High-of-day only counts for limit sells during regular hours.
	current = s.now()
	useHigh := !current.Before(s.settings.RegularOpen.Of(current))
	fills, err := s.broker.Advance(combined, useHigh)
	if err != nil {
		s.logger.Warn("Fill acquisition failed", zap.Error(err))
		return nil
	}
	if len(fills) > 0 {
		s.processFills(fills)
	}
	return nil
}

// evaluateRefreshGate keeps trading locked until the candidate list is
// observed to change from its first-seen snapshot for the day and meets
// the minimum size. The snapshot is compared by equality, not a hash.
func (s *Strategy) evaluateRefreshGate(symbols []string, today string) bool {
	if !s.settings.FinvizRequireRefreshBeforeTrading {
		return true
	}
	if s.store.GetMetricString(metricScreenerDate) != today {
		// New day: reset the gate.
		s.store.SetMetric(metricScreenerDate, today)
		s.store.DeleteMetric(metricScreenerSnapshot)
		s.store.SetMetric(metricScreenerRefreshed, false)
	}
	snapshot := snapshotKey(symbols)
	initial, hasInitial := s.store.GetMetric(metricScreenerSnapshot)
	refreshed := s.store.GetMetricBool(metricScreenerRefreshed)
	switch {
	case !hasInitial:
		s.store.SetMetric(metricScreenerSnapshot, snapshot)
		s.logger.Info("Captured initial screener snapshot", zap.Int("symbols", len(symbols)))
	case !refreshed && snapshot != initial && len(symbols) >= s.settings.FinvizMinSymbols:
		s.store.SetMetric(metricScreenerRefreshed, true)
		s.logger.Info("Screener list changed; trading unlocked", zap.Int("symbols", len(symbols)))
	}
	ok := s.store.GetMetricBool(metricScreenerRefreshed)
	if s.lastGateState == nil || ok != *s.lastGateState {
		state := "LOCKED"
		if ok {
			state = "UNLOCKED"
		}
		s.logger.Info("Screener gate state", zap.String("state", state), zap.Int("symbols", len(symbols)))
	} else if !ok {
		s.logger.Info("Screener gate still LOCKED", zap.Int("symbols", len(symbols)))
	}
	s.lastGateState = &ok
	return ok
}

// placeBuys sizes and submits entry orders for the eligible candidates.
// Returns the set of symbols that got an order placed.
func (s *Strategy) placeBuys(candidates []string, quotes map[string]model.Quote, current time.Time, referencePrices map[string]float64) map[string]bool {
	placed := make(map[string]bool)
	premarket := current.Before(s.settings.RegularOpen.Of(current))
	slippage := 0.0
	if premarket {
		slippage = s.settings.PremarketBuySlippageBPS / 10000.0
	}
	for _, symbol := range candidates {
		var priceForSize, limitPrice float64
		orderType := model.Market

		if refPx := referencePrices[symbol]; refPx > 0 {
			priceForSize = refPx
			// A generous limit above the reference forces a
			// deterministic fill in simulation.
			limitPrice = round2(refPx * s.settings.FinvizLimitMarkup)
			orderType = model.Limit
		} else {
			quote, ok := quotes[symbol]
			if !ok {
				s.logger.Debug("No buy quote; skipping buy decision", zap.String("symbol", symbol))
				continue
			}
			switch {
			case quote.Last > 0:
				priceForSize = quote.Last
			case quote.Ask > 0:
				priceForSize = quote.Ask
			case quote.Bid > 0:
				priceForSize = quote.Bid
			}
			if priceForSize <= 0 {
				s.logger.Debug("No price; skipping buy decision", zap.String("symbol", symbol))
				continue
			}
			if premarket && s.broker.NeedsReconciliation() {
				// Extended-hours venues reject unpriced market orders.
				ask := quote.Ask
				if ask <= 0 {
					ask = priceForSize
				}
				limitPrice = round2(math.Max(0.01, ask*(1+slippage)))
				orderType = model.Limit
			}
		}

		shares := int(math.Ceil(s.settings.BasePositionDollars / priceForSize))
		if shares < 1 {
			shares = 1
		}
		order := model.NewOrder(symbol, model.Buy, orderType, limitPrice, shares, "entry")
		accepted, err := s.broker.PlaceOrder(order)
		if err != nil {
			s.logger.Warn("Buy placement failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		s.store.UpsertOrder(accepted)
		if orderType == model.Limit {
			s.logger.Info("Placed limit buy",
				zap.String("symbol", symbol),
				zap.Int("shares", shares),
				zap.Float64("limit", limitPrice),
				zap.Bool("premarket", premarket))
		} else {
			s.logger.Info("Placed market buy",
				zap.String("symbol", symbol),
				zap.Int("shares", shares))
		}
		placed[symbol] = true
	}
	return placed
}

func (s *Strategy) recordDailyMetrics(openPositions map[string]*model.Position, quotes map[string]model.Quote, today string) {
	invested := 0.0
	holdings := 0.0
	for sym, pos := range openPositions {
		invested += float64(pos.TotalShares) * pos.AvgPrice
		if q, ok := quotes[sym]; ok && q.Last > 0 {
			holdings += float64(pos.TotalShares) * q.Last
		}
	}
	if _, updated := s.store.RecordInvestedValue(invested, today); updated && invested > 0 {
		s.logger.Info("Updated max invested value",
			zap.String("date", today), zap.Float64("value", invested))
	}
	s.store.RecordHoldingsValue(holdings, today)
}

// getQuotes is the degrade-gracefully wrapper around a quote source: a
// failed call means no data this cycle, never a failed tick.
func (s *Strategy) getQuotes(provider broker.MarketDataProvider, symbols []string) map[string]model.Quote {
	quotes, err := provider.GetQuotes(symbols)
	if err != nil {
		s.logger.Warn("Quote fetch failed", zap.Int("symbols", len(symbols)), zap.Error(err))
		return map[string]model.Quote{}
	}
	return quotes
}

// sleepCtx waits for the duration unless the context is cancelled
// first, so shutdown interrupts in-flight waits.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func snapshotKey(symbols []string) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

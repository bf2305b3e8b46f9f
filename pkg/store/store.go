// Package store is the JSON-backed persistence layer for the trader.
// Every mutation writes through to disk so a crash never leaves memory
// and disk inconsistent for longer than one operation.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	"finviztrader/pkg/model"
)

const (
	metricMaxInvestedValue = "max_invested_value"
	metricMaxInvestedDate  = "max_invested_date"
	metricMaxHoldingsValue = "max_holdings_value"
	metricMaxHoldingsDate  = "max_holdings_date"
	metricLastSync         = "alpaca_last_sync"
)

type statePayload struct {
	Positions        map[string]*model.Position `json:"positions"`
	Orders           map[string]*model.Order    `json:"orders"`
	Fills            map[string]*model.Fill     `json:"fills"`
	TradedDates      map[string]string          `json:"traded_dates"`
	ProcessedFillIDs []string                   `json:"processed_fill_ids"`
	Metrics          map[string]any             `json:"metrics"`
}

// Store keeps positions, orders, fills and the auxiliary counters that
// guard the strategy across restarts. It is mutated only from the
// scheduler's single thread of control.
type Store struct {
	path   string
	logger *zap.Logger

	Positions map[string]*model.Position
	Orders    map[string]*model.Order
	Fills     map[string]*model.Fill

	tradedDates      map[string]string
	processedFillIDs map[string]struct{}
	metrics          map[string]any
}

// Open loads (or creates) the state file at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:             path,
		logger:           logger,
		Positions:        make(map[string]*model.Position),
		Orders:           make(map[string]*model.Order),
		Fills:            make(map[string]*model.Fill),
		tradedDates:      make(map[string]string),
		processedFillIDs: make(map[string]struct{}),
		metrics:          make(map[string]any),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info("State file not found, starting fresh", zap.String("path", s.path))
		return s.persist()
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// A crash mid-write can truncate the file; try to repair it
		// before giving up the traded-date guard and dedupe history.
		repaired, repErr := jsonrepair.JSONRepair(string(raw))
		if repErr != nil {
			return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return fmt.Errorf("failed to parse repaired state file %s: %w", s.path, err)
		}
		s.logger.Warn("State file was malformed and has been repaired", zap.String("path", s.path))
	}

	if payload.Positions != nil {
		s.Positions = payload.Positions
	}
	if payload.Orders != nil {
		s.Orders = payload.Orders
	}
	if payload.Fills != nil {
		s.Fills = payload.Fills
	}
	if payload.TradedDates != nil {
		s.tradedDates = payload.TradedDates
	}
	for _, id := range payload.ProcessedFillIDs {
		s.processedFillIDs[id] = struct{}{}
	}
	if payload.Metrics != nil {
		s.metrics = payload.Metrics
	}
	s.logger.Info("Loaded state",
		zap.Int("positions", len(s.Positions)),
		zap.Int("orders", len(s.Orders)),
		zap.Int("processed_fills", len(s.processedFillIDs)))
	return nil
}

func (s *Store) persist() error {
	ids := make([]string, 0, len(s.processedFillIDs))
	for id := range s.processedFillIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	payload := statePayload{
		Positions:        s.Positions,
		Orders:           s.Orders,
		Fills:            s.Fills,
		TradedDates:      s.tradedDates,
		ProcessedFillIDs: ids,
		Metrics:          s.metrics,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	if err := os.WriteFile(s.path, pretty.Pretty(data), 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func (s *Store) mustPersist() {
	if err := s.persist(); err != nil {
		s.logger.Error("State persist failed", zap.Error(err))
	}
}

// OpenPositions returns the positions that are not closed.
func (s *Store) OpenPositions() map[string]*model.Position {
	open := make(map[string]*model.Position)
	for sym, pos := range s.Positions {
		if !pos.Closed {
			open[sym] = pos
		}
	}
	return open
}

// UpsertPosition stores a position and persists.
func (s *Store) UpsertPosition(p *model.Position) {
	s.Positions[p.Symbol] = p
	s.mustPersist()
}

// UpsertOrder stores an order and persists.
func (s *Store) UpsertOrder(o *model.Order) {
	s.Orders[o.ID] = o
	s.mustPersist()
}

// GetOrder looks up an order by id.
func (s *Store) GetOrder(id string) (*model.Order, bool) {
	o, ok := s.Orders[id]
	return o, ok
}

// OrdersWhere returns orders matching the predicate.
func (s *Store) OrdersWhere(keep func(*model.Order) bool) []*model.Order {
	var out []*model.Order
	for _, o := range s.Orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// RecordFill stores a fill and persists.
func (s *Store) RecordFill(f *model.Fill) {
	s.Fills[f.ID] = f
	s.mustPersist()
}

// FilledQuantityForOrder sums the recorded fill quantity for an order.
func (s *Store) FilledQuantityForOrder(orderID string) int {
	total := 0
	for _, f := range s.Fills {
		if f.OrderID == orderID {
			total += f.Quantity
		}
	}
	return total
}

// MarkTraded remembers that a symbol bought on a given date, blocking
// same-day re-entry even if the position cache is later reset.
func (s *Store) MarkTraded(symbol, isoDate string) {
	s.tradedDates[symbol] = isoDate
	s.mustPersist()
}

// TradedOn reports whether a symbol already traded on the given date.
func (s *Store) TradedOn(symbol, isoDate string) bool {
	return s.tradedDates[symbol] == isoDate
}

// MarkFillProcessed records a fill id in the dedupe set.
func (s *Store) MarkFillProcessed(fillID string) {
	s.processedFillIDs[fillID] = struct{}{}
	s.mustPersist()
}

// FillProcessed reports whether a fill id was already applied.
func (s *Store) FillProcessed(fillID string) bool {
	_, ok := s.processedFillIDs[fillID]
	return ok
}

// ProcessedFillIDs returns a copy of the dedupe set.
func (s *Store) ProcessedFillIDs() []string {
	ids := make([]string, 0, len(s.processedFillIDs))
	for id := range s.processedFillIDs {
		ids = append(ids, id)
	}
	return ids
}

// ResetCaches drops the position/order/fill caches without touching the
// traded-date guard, the dedupe set or metrics. Used before rebuilding
// from broker truth.
func (s *Store) ResetCaches() {
	s.Positions = make(map[string]*model.Position)
	s.Orders = make(map[string]*model.Order)
	s.Fills = make(map[string]*model.Fill)
	s.mustPersist()
}

// ClearTransient wipes positions, orders, fills and traded dates while
// preserving cross-day metrics and the processed-fill dedupe history.
func (s *Store) ClearTransient() {
	s.Positions = make(map[string]*model.Position)
	s.Orders = make(map[string]*model.Order)
	s.Fills = make(map[string]*model.Fill)
	s.tradedDates = make(map[string]string)
	s.mustPersist()
}

// RecordInvestedValue tracks the daily max invested capital (cost basis
// of open positions). Returns the current max and whether it advanced.
func (s *Store) RecordInvestedValue(value float64, isoDate string) (float64, bool) {
	return s.recordDailyMax(metricMaxInvestedValue, metricMaxInvestedDate, value, isoDate)
}

// RecordHoldingsValue tracks the daily max mark-to-market value of open
// positions. Returns the current max and whether it advanced.
func (s *Store) RecordHoldingsValue(value float64, isoDate string) (float64, bool) {
	return s.recordDailyMax(metricMaxHoldingsValue, metricMaxHoldingsDate, value, isoDate)
}

func (s *Store) recordDailyMax(valueKey, dateKey string, value float64, isoDate string) (float64, bool) {
	if s.metrics[dateKey] != isoDate {
		// Day change: reset the running max. Persisted immediately so
		// a crash cannot resurrect yesterday's max as today's.
		s.metrics[valueKey] = 0.0
		s.metrics[dateKey] = isoDate
		s.mustPersist()
	}
	current, _ := s.metrics[valueKey].(float64)
	if value > current {
		s.metrics[valueKey] = value
		s.metrics[dateKey] = isoDate
		s.mustPersist()
		return value, true
	}
	return current, false
}

// MaxInvestedSnapshot returns the persisted daily max invested value
// and its date, if any.
func (s *Store) MaxInvestedSnapshot() (float64, string, bool) {
	val, ok := s.metrics[metricMaxInvestedValue].(float64)
	if !ok {
		return 0, "", false
	}
	date, _ := s.metrics[metricMaxInvestedDate].(string)
	return val, date, true
}

// RecordSyncTimestamp records the last broker sync time (ISO).
func (s *Store) RecordSyncTimestamp(isoTS string) {
	s.metrics[metricLastSync] = isoTS
	s.mustPersist()
}

// GetMetric returns a metric value by key.
func (s *Store) GetMetric(key string) (any, bool) {
	v, ok := s.metrics[key]
	return v, ok
}

// GetMetricString returns a string metric, or "" when unset.
func (s *Store) GetMetricString(key string) string {
	v, _ := s.metrics[key].(string)
	return v
}

// GetMetricBool returns a bool metric, defaulting to false.
func (s *Store) GetMetricBool(key string) bool {
	v, _ := s.metrics[key].(bool)
	return v
}

// SetMetric stores a metric value and persists.
func (s *Store) SetMetric(key string, value any) {
	s.metrics[key] = value
	s.mustPersist()
}

// DeleteMetric removes a metric key and persists.
func (s *Store) DeleteMetric(key string) {
	delete(s.metrics, key)
	s.mustPersist()
}

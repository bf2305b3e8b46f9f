// Package pnl is the append-only trade-event sink and its summarizer.
// Events are JSON lines in dated files; a write failure is logged and
// never blocks the tick.
package pnl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Event kinds written to the log.
const (
	EventEntry    = "entry"
	EventExitFill = "exit_fill"
	EventClose    = "close"
)

// Event is one trade-log line.
type Event struct {
	Event       string  `json:"event"`
	Symbol      string  `json:"symbol"`
	Timestamp   string  `json:"timestamp"`
	Price       float64 `json:"price,omitempty"`
	Quantity    int     `json:"quantity,omitempty"`
	PnLDelta    float64 `json:"pnl_delta,omitempty"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
}

// Logger appends trade events to a per-day JSONL file next to the
// configured base path (pnl.log -> pnl-2026-08-31.log).
type Logger struct {
	baseDir  string
	baseStem string
	logger   *zap.Logger
	now      func() time.Time
}

// NewLogger builds a trade logger rooted at the given base path.
func NewLogger(path string, logger *zap.Logger) *Logger {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if stem == "" {
		stem = "pnl"
	}
	return &Logger{
		baseDir:  filepath.Dir(path),
		baseStem: stem,
		logger:   logger,
		now:      time.Now,
	}
}

// PathForDate returns the dated log path for the given ISO date.
func (l *Logger) PathForDate(isoDate string) string {
	return filepath.Join(l.baseDir, l.baseStem+"-"+isoDate+".log")
}

func (l *Logger) write(evt Event) {
	if err := l.append(l.PathForDate(l.now().Format("2006-01-02")), evt); err != nil {
		l.logger.Debug("PnL log write failed", zap.Error(err))
	}
}

func (l *Logger) append(path string, evt Event) error {
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// LogEntry records a buy fill.
func (l *Logger) LogEntry(symbol string, ts time.Time, price float64, qty int, orderID string) {
	l.write(Event{
		Event:     EventEntry,
		Symbol:    symbol,
		Timestamp: ts.Format(time.RFC3339),
		Price:     price,
		Quantity:  qty,
		OrderID:   orderID,
	})
}

// LogExitFill records a sell fill and its realized PnL delta.
func (l *Logger) LogExitFill(symbol string, ts time.Time, price float64, qty int, pnlDelta float64, orderID string) {
	l.write(Event{
		Event:     EventExitFill,
		Symbol:    symbol,
		Timestamp: ts.Format(time.RFC3339),
		Price:     price,
		Quantity:  qty,
		PnLDelta:  pnlDelta,
		OrderID:   orderID,
	})
}

// LogCloseSummary records a position going flat with its total realized
// PnL.
func (l *Logger) LogCloseSummary(symbol string, ts time.Time, totalRealized float64) {
	l.write(Event{
		Event:       EventClose,
		Symbol:      symbol,
		Timestamp:   ts.Format(time.RFC3339),
		RealizedPnL: totalRealized,
	})
}

// RewriteForDate replaces the dated log with the given event sequence.
// Used when rebuilding the log from authoritative broker fills.
func (l *Logger) RewriteForDate(isoDate string, events []Event) error {
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return err
	}
	var sb strings.Builder
	for _, evt := range events {
		line, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return os.WriteFile(l.PathForDate(isoDate), []byte(sb.String()), 0o644)
}

package pnl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SymbolStats aggregates the trade-log events for one symbol.
type SymbolStats struct {
	EntryQty     int
	EntryCost    float64
	ExitQty      int
	Realized     float64
	FirstEntryTS string
	LastCloseTS  string
}

// AvgEntry is the volume-weighted average entry price.
func (s *SymbolStats) AvgEntry() float64 {
	if s.EntryQty == 0 {
		return 0
	}
	return s.EntryCost / float64(s.EntryQty)
}

// NetQty is shares bought minus shares sold.
func (s *SymbolStats) NetQty() int {
	return s.EntryQty - s.ExitQty
}

// Summarise reads a PnL JSONL log into per-symbol stats.
func Summarise(path string) (map[string]*SymbolStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pnl log: %w", err)
	}
	defer f.Close()

	stats := make(map[string]*SymbolStats)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if evt.Symbol == "" {
			continue
		}
		rec, ok := stats[evt.Symbol]
		if !ok {
			rec = &SymbolStats{}
			stats[evt.Symbol] = rec
		}
		switch evt.Event {
		case EventEntry:
			rec.EntryQty += evt.Quantity
			rec.EntryCost += evt.Price * float64(evt.Quantity)
			if rec.FirstEntryTS == "" {
				rec.FirstEntryTS = evt.Timestamp
			}
		case EventExitFill:
			rec.ExitQty += evt.Quantity
			rec.Realized += evt.PnLDelta
		case EventClose:
			rec.LastCloseTS = evt.Timestamp
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pnl log: %w", err)
	}
	return stats, nil
}

// MaxInvested is the optional daily max invested capital line carried
// into the summary.
type MaxInvested struct {
	Value float64
	Date  string
}

// SummariseAndWrite renders the per-symbol summary and writes it next
// to the log file (pnl-2026-08-31.log -> pnl-summary-2026-08-31.log).
// Returns the rendered text and the output path.
func SummariseAndWrite(path string, maxInvested *MaxInvested) (string, string, error) {
	stats, err := Summarise(path)
	if err != nil {
		return "", "", err
	}

	totalRealized := 0.0
	var wins, losses, flats int
	var winSum, lossSum float64
	for _, rec := range stats {
		totalRealized += rec.Realized
		switch {
		case rec.Realized > 0:
			wins++
			winSum += rec.Realized
		case rec.Realized < 0:
			losses++
			lossSum += rec.Realized
		default:
			flats++
		}
	}
	avgWin, avgLoss := 0.0, 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Summary for %s", filepath.Base(path)))
	lines = append(lines, fmt.Sprintf("Symbols: %d | Total realized PnL: %.2f", len(stats), totalRealized))
	lines = append(lines, fmt.Sprintf(
		"Wins: %d | Losses: %d | Flats: %d | Avg win: %.2f | Avg loss: %.2f",
		wins, losses, flats, avgWin, avgLoss))
	if maxInvested != nil {
		lines = append(lines, fmt.Sprintf("Max invested capital: %.2f (%s)", maxInvested.Value, maxInvested.Date))
	}
	lines = append(lines, strings.Repeat("-", 110))
	lines = append(lines, fmt.Sprintf(
		"%-8s %10s %8s %8s %8s %12s %22s %22s",
		"Symbol", "AvgEntry", "QtyIn", "QtyOut", "NetQty", "Realized", "FirstEntry", "LastClose"))

	symbols := make([]string, 0, len(stats))
	for sym := range stats {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		rec := stats[sym]
		firstEntry := rec.FirstEntryTS
		if firstEntry == "" {
			firstEntry = "-"
		}
		lastClose := rec.LastCloseTS
		if lastClose == "" {
			lastClose = "-"
		}
		lines = append(lines, fmt.Sprintf(
			"%-8s %10.4f %8d %8d %8d %12.2f %22s %22s",
			sym, rec.AvgEntry(), rec.EntryQty, rec.ExitQty, rec.NetQty(), rec.Realized, firstEntry, lastClose))
	}

	output := strings.Join(lines, "\n") + "\n"
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outName := "pnl-summary-" + strings.TrimPrefix(stem, "pnl-") + ".log"
	outPath := filepath.Join(filepath.Dir(path), outName)
	if err := os.WriteFile(outPath, []byte(output), 0o644); err != nil {
		return output, "", fmt.Errorf("failed to write summary: %w", err)
	}
	return output, outPath, nil
}

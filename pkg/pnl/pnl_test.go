package pnl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l := NewLogger(filepath.Join(dir, "pnl.log"), zap.NewNop())
	l.now = func() time.Time { return time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC) }
	return l, dir
}

func TestLoggerWritesDatedJSONL(t *testing.T) {
	l, dir := newTestLogger(t)
	ts := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)

	l.LogEntry("ABC", ts, 50.0, 20, "order-1")
	l.LogExitFill("ABC", ts, 55.0, 5, 25.0, "order-2")
	l.LogCloseSummary("ABC", ts, 75.0)

	path := filepath.Join(dir, "pnl-2026-08-31.log")
	require.Equal(t, path, l.PathForDate("2026-08-31"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `"event":"entry"`)
	require.Contains(t, lines[1], `"pnl_delta":25`)
	require.Contains(t, lines[2], `"realized_pnl":75`)
}

func TestSummariseAggregatesPerSymbol(t *testing.T) {
	l, dir := newTestLogger(t)
	ts := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)

	l.LogEntry("ABC", ts, 50.0, 10, "o1")
	l.LogEntry("ABC", ts, 60.0, 10, "o2")
	l.LogExitFill("ABC", ts, 66.0, 5, 55.0, "o3")
	l.LogEntry("XYZ", ts, 10.0, 4, "o4")
	l.LogExitFill("XYZ", ts, 9.0, 4, -4.0, "o5")
	l.LogCloseSummary("XYZ", ts, -4.0)

	stats, err := Summarise(filepath.Join(dir, "pnl-2026-08-31.log"))
	require.NoError(t, err)
	require.Len(t, stats, 2)

	abc := stats["ABC"]
	require.Equal(t, 20, abc.EntryQty)
	require.InDelta(t, 55.0, abc.AvgEntry(), 1e-9)
	require.Equal(t, 15, abc.NetQty())
	require.InDelta(t, 55.0, abc.Realized, 1e-9)

	xyz := stats["XYZ"]
	require.Equal(t, 0, xyz.NetQty())
	require.InDelta(t, -4.0, xyz.Realized, 1e-9)
	require.NotEmpty(t, xyz.LastCloseTS)
}

func TestSummariseAndWriteRendersReport(t *testing.T) {
	l, dir := newTestLogger(t)
	ts := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	l.LogEntry("ABC", ts, 50.0, 10, "o1")
	l.LogExitFill("ABC", ts, 55.0, 10, 50.0, "o2")

	path := filepath.Join(dir, "pnl-2026-08-31.log")
	output, outPath, err := SummariseAndWrite(path, &MaxInvested{Value: 2500.0, Date: "2026-08-31"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "pnl-summary-2026-08-31.log"), outPath)
	require.Contains(t, output, "Total realized PnL: 50.00")
	require.Contains(t, output, "Max invested capital: 2500.00 (2026-08-31)")
	require.Contains(t, output, "ABC")

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, output, string(written))
}

func TestSummariseMissingFile(t *testing.T) {
	_, err := Summarise(filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
}

func TestRewriteForDateReplacesLog(t *testing.T) {
	l, dir := newTestLogger(t)
	ts := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	l.LogEntry("ABC", ts, 50.0, 10, "o1")

	err := l.RewriteForDate("2026-08-31", []Event{
		{Event: EventEntry, Symbol: "XYZ", Timestamp: ts.Format(time.RFC3339), Price: 10.0, Quantity: 4},
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "pnl-2026-08-31.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], `"symbol":"XYZ"`)
}

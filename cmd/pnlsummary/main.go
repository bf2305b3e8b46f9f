// pnlsummary prints the per-symbol PnL summary for a trading day from
// its trade log, and writes the summary file alongside it.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"finviztrader/pkg/config"
	"finviztrader/pkg/pnl"
	"finviztrader/pkg/store"
	"finviztrader/pkg/timeutil"
)

func main() {
	date := flag.String("date", "", "trading date YYYY-MM-DD (default today)")
	file := flag.String("file", "", "explicit trade log path (overrides -date)")
	flag.Parse()

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := zap.Must(zap.NewProduction())
	defer logger.Sync()

	path := *file
	if path == "" {
		day := *date
		if day == "" {
			day = timeutil.ISODate(timeutil.Now(settings.Location()))
		}
		path = pnl.NewLogger(settings.PnLLogFile, logger).PathForDate(day)
	}

	var maxInvested *pnl.MaxInvested
	if st, err := store.Open(settings.StateFile, logger); err == nil {
		if value, d, ok := st.MaxInvestedSnapshot(); ok {
			maxInvested = &pnl.MaxInvested{Value: value, Date: d}
		}
	}

	output, outPath, err := pnl.SummariseAndWrite(path, maxInvested)
	if err != nil {
		fmt.Fprintln(os.Stderr, "summary:", err)
		os.Exit(1)
	}
	fmt.Println(output)
	fmt.Fprintln(os.Stderr, "written:", outPath)
}

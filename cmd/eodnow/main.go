// eodnow forces the end-of-day close immediately, regardless of the
// clock. Useful after a crash left positions open past the session.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"finviztrader/pkg/broker"
	"finviztrader/pkg/config"
	"finviztrader/pkg/marketdata"
	"finviztrader/pkg/screener"
	"finviztrader/pkg/store"
	"finviztrader/pkg/strategy"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := zap.Must(zap.NewProduction())
	defer logger.Sync()

	st, err := store.Open(settings.StateFile, logger)
	if err != nil {
		logger.Fatal("State store unavailable", zap.Error(err))
	}

	var exec broker.Broker
	var data broker.MarketDataProvider
	switch settings.BrokerBackend {
	case "alpaca":
		exec = broker.NewAlpacaBroker(settings.AlpacaAPIKey, settings.AlpacaAPISecret, settings.AlpacaAPIBaseURL, logger)
		data = broker.NewAlpacaMarketData(settings.AlpacaAPIKey, settings.AlpacaAPISecret, logger)
	default:
		exec = broker.NewPaperBroker(logger)
		if settings.FinnhubAPIKey != "" {
			data = marketdata.NewFinnhub(settings.FinnhubAPIKey,
				settings.FinnhubMaxSymbolsPerSecond, settings.FinnhubMaxSymbolsPerMinute, logger)
		} else {
			data = marketdata.NewSynthetic(10.0, logger)
		}
	}

	candidates := screener.NewClient(settings.FinvizURL, settings.FinvizCookie, logger)
	engine, err := strategy.New(settings, candidates, data, data, exec, st, logger)
	if err != nil {
		logger.Fatal("Strategy startup failed", zap.Error(err))
	}

	if err := engine.RunEOD(context.Background()); err != nil {
		logger.Fatal("End-of-day close failed", zap.Error(err))
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finviztrader/pkg/broker"
	"finviztrader/pkg/config"
	"finviztrader/pkg/marketdata"
	"finviztrader/pkg/sched"
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

	logger := buildLogger(settings.LogFile)
	defer logger.Sync()

	st, err := store.Open(settings.StateFile, logger)
	if err != nil {
		logger.Fatal("State store unavailable", zap.Error(err))
	}

	exec, fillData, buyData := buildBackend(settings, logger)
	candidates := screener.NewClient(settings.FinvizURL, settings.FinvizCookie, logger)

	engine, err := strategy.New(settings, candidates, fillData, buyData, exec, st, logger)
	if err != nil {
		logger.Fatal("Strategy startup failed", zap.Error(err))
	}

	scheduler := sched.New(settings, engine, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		scheduler.Stop()
	}()

	logger.Info("Trader starting", zap.String("backend", settings.BrokerBackend))
	scheduler.Run()
}

// buildBackend assembles the execution venue and the two quote feeds:
// one polled against open orders for fills, one used to price and value
// entries.
func buildBackend(settings *config.Settings, logger *zap.Logger) (broker.Broker, broker.MarketDataProvider, broker.MarketDataProvider) {
	switch settings.BrokerBackend {
	case "alpaca":
		exec := broker.NewAlpacaBroker(settings.AlpacaAPIKey, settings.AlpacaAPISecret, settings.AlpacaAPIBaseURL, logger)
		data := broker.NewAlpacaMarketData(settings.AlpacaAPIKey, settings.AlpacaAPISecret, logger)
		return exec, data, data
	case "synthetic":
		data := marketdata.NewSynthetic(10.0, logger)
		return broker.NewPaperBroker(logger), data, data
	default: // paper
		if settings.FinnhubAPIKey == "" {
			logger.Warn("FINNHUB_API_KEY not set; paper backend falls back to synthetic quotes")
			data := marketdata.NewSynthetic(10.0, logger)
			return broker.NewPaperBroker(logger), data, data
		}
		feed := marketdata.NewFinnhub(settings.FinnhubAPIKey,
			settings.FinnhubMaxSymbolsPerSecond, settings.FinnhubMaxSymbolsPerMinute, logger)
		// Valuation and sizing quotes tolerate slight staleness; fill
		// checks always hit the feed directly.
		return broker.NewPaperBroker(logger), feed, marketdata.NewCached(feed, 45*time.Second)
	}
}

func buildLogger(logFile string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
			cfg.OutputPaths = append(cfg.OutputPaths, logFile)
		}
	}
	return zap.Must(cfg.Build())
}

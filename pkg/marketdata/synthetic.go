// Package marketdata holds the quote-source implementations that do
// not belong to a broker: deterministic synthetic quotes for local
// runs, a rate-limited Finnhub poller, and a TTL cache wrapper.
package marketdata

import (
	"time"

	"go.uber.org/zap"

	"finviztrader/pkg/model"
)

// Synthetic generates deterministic quotes for local development.
// Prices vary slightly minute-by-minute using symbol-derived seeds.
type Synthetic struct {
	BasePrice float64
	logger    *zap.Logger
	now       func() time.Time
}

// NewSynthetic builds a synthetic provider around the given base price.
func NewSynthetic(basePrice float64, logger *zap.Logger) *Synthetic {
	return &Synthetic{BasePrice: basePrice, logger: logger, now: time.Now}
}

func (s *Synthetic) priceFor(symbol string) float64 {
	seed := 0
	for _, c := range symbol {
		seed += int(c)
	}
	minute := int(s.now().Unix() / 60)
	variation := float64((minute+seed)%5-2) * 0.01
	price := s.BasePrice + float64(seed%10)
	return price * (1 + variation/10)
}

// GetQuotes returns one synthetic quote per requested symbol.
func (s *Synthetic) GetQuotes(symbols []string) (map[string]model.Quote, error) {
	quotes := make(map[string]model.Quote, len(symbols))
	for _, symbol := range symbols {
		last := s.priceFor(symbol)
		q := model.NewQuote(symbol, last*0.999, last*1.001, last)
		q.High = last * 1.002
		q.Timestamp = s.now()
		quotes[symbol] = q
	}
	s.logger.Debug("Generated synthetic quotes", zap.Int("count", len(quotes)))
	return quotes, nil
}

package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"finviztrader/pkg/model"
)

const finnhubQuoteURL = "https://finnhub.io/api/v1/quote"

type finnhubQuote struct {
	Current   float64 `json:"c"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Open      float64 `json:"o"`
	PrevClose float64 `json:"pc"`
}

// Finnhub polls the Finnhub quote endpoint under a request budget.
// Symbols beyond the per-minute budget are skipped this cycle; a
// rotation offset moves the starting point each window so starved
// symbols are priced first on the next one. All limiter state is
// per-instance, no shared globals.
type Finnhub struct {
	apiKey     string
	logger     *zap.Logger
	httpClient *http.Client

	limiter      *rate.Limiter
	perMinute    int
	windowStart  time.Time
	usedInWindow int
	offset       int

	now func() time.Time
}

// NewFinnhub builds a Finnhub provider with per-second and per-minute
// symbol budgets.
func NewFinnhub(apiKey string, perSecond, perMinute int, logger *zap.Logger) *Finnhub {
	if perSecond <= 0 {
		perSecond = 1
	}
	if perMinute <= 0 {
		perMinute = perSecond * 60
	}
	return &Finnhub{
		apiKey:     apiKey,
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), perSecond),
		perMinute:  perMinute,
		now:        time.Now,
	}
}

func (f *Finnhub) remainingBudget() int {
	current := f.now()
	if f.windowStart.IsZero() || current.Sub(f.windowStart) >= time.Minute {
		f.windowStart = current
		f.usedInWindow = 0
	}
	return f.perMinute - f.usedInWindow
}

// GetQuotes prices as many of the requested symbols as the budget
// allows and omits the rest.
func (f *Finnhub) GetQuotes(symbols []string) (map[string]model.Quote, error) {
	quotes := make(map[string]model.Quote)
	if len(symbols) == 0 {
		return quotes, nil
	}

	budget := f.remainingBudget()
	if budget <= 0 {
		f.logger.Debug("Finnhub minute budget exhausted, skipping quote cycle",
			zap.Int("requested", len(symbols)))
		return quotes, nil
	}

	start := f.offset % len(symbols)
	fetched := 0
	for i := 0; i < len(symbols) && fetched < budget; i++ {
		symbol := symbols[(start+i)%len(symbols)]
		if err := f.limiter.Wait(context.Background()); err != nil {
			return quotes, fmt.Errorf("finnhub rate limiter: %w", err)
		}
		q, err := f.fetchQuote(symbol)
		f.usedInWindow++
		fetched++
		if err != nil {
			f.logger.Debug("Finnhub quote failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		quotes[symbol] = q
	}
	if fetched < len(symbols) {
		// Skipped symbols go first next cycle.
		f.offset = (start + fetched) % len(symbols)
		f.logger.Debug("Finnhub budget truncated quote cycle",
			zap.Int("priced", fetched), zap.Int("requested", len(symbols)))
	} else {
		f.offset = 0
	}
	return quotes, nil
}

func (f *Finnhub) fetchQuote(symbol string) (model.Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("token", f.apiKey)
	resp, err := f.httpClient.Get(finnhubQuoteURL + "?" + params.Encode())
	if err != nil {
		return model.Quote{}, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, fmt.Errorf("finnhub returned status %d", resp.StatusCode)
	}
	var fq finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&fq); err != nil {
		return model.Quote{}, fmt.Errorf("failed to decode quote: %w", err)
	}
	if fq.Current <= 0 {
		return model.Quote{}, fmt.Errorf("no price for %s", symbol)
	}
	// Finnhub's quote endpoint has no bid/ask; approximate a tight
	// spread around the last trade.
	q := model.NewQuote(symbol, fq.Current*0.999, fq.Current*1.001, fq.Current)
	q.High = fq.High
	return q, nil
}

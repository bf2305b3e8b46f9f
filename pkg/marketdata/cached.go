package marketdata

import (
	"time"

	"finviztrader/pkg/model"
)

type cachedQuote struct {
	quote   model.Quote
	fetched time.Time
}

// Cached wraps a provider with a TTL cache so valuation quotes for
// held positions do not burn the upstream rate budget every minute.
type Cached struct {
	inner interface {
		GetQuotes(symbols []string) (map[string]model.Quote, error)
	}
	ttl   time.Duration
	cache map[string]cachedQuote
	now   func() time.Time
}

// NewCached builds a TTL cache around the given provider.
func NewCached(inner interface {
	GetQuotes(symbols []string) (map[string]model.Quote, error)
}, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cachedQuote),
		now:   time.Now,
	}
}

// GetQuotes serves fresh-enough quotes from cache and fetches the rest.
func (c *Cached) GetQuotes(symbols []string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(symbols))
	var misses []string
	current := c.now()
	for _, sym := range symbols {
		if entry, ok := c.cache[sym]; ok && current.Sub(entry.fetched) < c.ttl {
			out[sym] = entry.quote
			continue
		}
		misses = append(misses, sym)
	}
	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := c.inner.GetQuotes(misses)
	if err != nil {
		// Serve what the cache had; the strategy treats missing
		// symbols as "no data this cycle".
		return out, err
	}
	for sym, q := range fetched {
		c.cache[sym] = cachedQuote{quote: q, fetched: current}
		out[sym] = q
	}
	return out, nil
}

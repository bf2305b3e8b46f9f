package marketdata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"finviztrader/pkg/model"
)

func TestSyntheticQuotesAreDeterministicPerMinute(t *testing.T) {
	s := NewSynthetic(10.0, zap.NewNop())
	fixed := time.Date(2026, 8, 31, 10, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	first, err := s.GetQuotes([]string{"ABC", "XYZ"})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := s.GetQuotes([]string{"ABC", "XYZ"})
	require.NoError(t, err)
	require.Equal(t, first, second)

	abc := first["ABC"]
	require.Positive(t, abc.Last)
	require.Less(t, abc.Bid, abc.Ask)
	require.Greater(t, abc.High, abc.Last)
}

type countingProvider struct {
	calls  int
	quotes map[string]model.Quote
	err    error
}

func (p *countingProvider) GetQuotes(symbols []string) (map[string]model.Quote, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]model.Quote)
	for _, sym := range symbols {
		if q, ok := p.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

func TestCachedServesFreshQuotesWithoutRefetch(t *testing.T) {
	inner := &countingProvider{quotes: map[string]model.Quote{
		"ABC": {Symbol: "ABC", Last: 50.0},
	}}
	c := NewCached(inner, time.Minute)
	at := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	out, err := c.GetQuotes([]string{"ABC"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1, inner.calls)

	out, err = c.GetQuotes([]string{"ABC"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1, inner.calls)

	// Past the TTL the inner provider is hit again.
	at = at.Add(2 * time.Minute)
	_, err = c.GetQuotes([]string{"ABC"})
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}

func TestCachedPropagatesUpstreamError(t *testing.T) {
	inner := &countingProvider{quotes: map[string]model.Quote{
		"ABC": {Symbol: "ABC", Last: 50.0},
	}}
	c := NewCached(inner, time.Minute)
	at := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	_, err := c.GetQuotes([]string{"ABC"})
	require.NoError(t, err)

	inner.err = errors.New("upstream down")
	at = at.Add(2 * time.Minute)
	out, err := c.GetQuotes([]string{"ABC"})
	require.Error(t, err)
	require.Empty(t, out)
}

func TestFinnhubBudgetRotation(t *testing.T) {
	f := NewFinnhub("token", 5, 2, zap.NewNop())
	// Exhaust the minute window artificially.
	f.windowStart = time.Now()
	f.usedInWindow = 2

	quotes, err := f.GetQuotes([]string{"AAA", "BBB", "CCC"})
	require.NoError(t, err)
	require.Empty(t, quotes)
}

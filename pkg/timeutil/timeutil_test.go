package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finviztrader/pkg/config"
)

func TestWithinTradingHours(t *testing.T) {
	start := config.TimeOfDay{Hour: 4}
	end := config.TimeOfDay{Hour: 16}

	monday := func(h, m int) time.Time {
		return time.Date(2026, 8, 31, h, m, 0, 0, time.UTC)
	}
	require.True(t, WithinTradingHours(monday(4, 0), start, end, false))
	require.True(t, WithinTradingHours(monday(10, 15), start, end, false))
	require.True(t, WithinTradingHours(monday(16, 0), start, end, false))
	require.False(t, WithinTradingHours(monday(3, 59), start, end, false))
	require.False(t, WithinTradingHours(monday(16, 1), start, end, false))

	saturday := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	require.False(t, WithinTradingHours(saturday, start, end, false))
	require.True(t, WithinTradingHours(saturday, start, end, true))
}

func TestNextMinute(t *testing.T) {
	at := time.Date(2026, 8, 31, 10, 4, 37, 500, time.UTC)
	require.Equal(t, time.Date(2026, 8, 31, 10, 5, 0, 0, time.UTC), NextMinute(at))

	boundary := time.Date(2026, 8, 31, 10, 5, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 31, 10, 6, 0, 0, time.UTC), NextMinute(boundary))
}

func TestISODate(t *testing.T) {
	require.Equal(t, "2026-08-31", ISODate(time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)))
}

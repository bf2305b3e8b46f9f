package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	require.Equal(t, TimeOfDay{Hour: 9, Minute: 30}, tod)
	require.Equal(t, "09:30", tod.String())

	for _, bad := range []string{"", "930", "24:00", "09:60", "xx:yy"} {
		_, err := ParseTimeOfDay(bad)
		require.Error(t, err, bad)
	}
}

func TestTimeOfDayOf(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := time.Date(2026, 8, 31, 12, 0, 0, 0, loc)
	at := TimeOfDay{Hour: 9, Minute: 30}.Of(day)
	require.Equal(t, 9, at.Hour())
	require.Equal(t, 30, at.Minute())
	require.Equal(t, loc, at.Location())
}

func TestValidateRejectsBadBackends(t *testing.T) {
	s := &Settings{
		BrokerBackend:       "paper",
		BasePositionDollars: 1000,
		PremarketStart:      TimeOfDay{Hour: 4},
		RegularClose:        TimeOfDay{Hour: 16},
	}
	require.NoError(t, s.Validate())

	s.BrokerBackend = "alpaca"
	require.Error(t, s.Validate()) // missing credentials
	s.AlpacaAPIKey, s.AlpacaAPISecret = "key", "secret"
	require.NoError(t, s.Validate())

	s.BrokerBackend = "robinhood"
	require.Error(t, s.Validate())

	s.BrokerBackend = "paper"
	s.BasePositionDollars = 0
	require.Error(t, s.Validate())
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, TimeOfDay{Hour: 9, Minute: 30}, s.RegularOpen)
	require.Positive(t, s.BasePositionDollars)
	require.NotEmpty(t, s.FinvizURL)
	require.NotNil(t, s.Location())
}

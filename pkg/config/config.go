package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TimeOfDay is a wall-clock time within a trading day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Before reports whether t is strictly earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Hour*60+t.Minute < other.Hour*60+other.Minute
}

// Of returns the clock time applied to the given date in its location.
func (t TimeOfDay) Of(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Settings is the central configuration for the trader service.
type Settings struct {
	FinvizURL                         string
	FinvizCookie                      string
	FinvizRequireRefreshBeforeTrading bool
	FinvizMinSymbols                  int
	FinvizLimitMarkup                 float64

	BasePositionDollars float64

	PremarketStart TimeOfDay
	RegularOpen    TimeOfDay
	RegularClose   TimeOfDay
	Timezone       string
	AllowWeekends  bool

	StateFile  string
	LogFile    string
	PnLLogFile string

	BrokerBackend     string
	AlpacaAPIKey      string
	AlpacaAPISecret   string
	AlpacaAPIBaseURL  string
	AlpacaDataBaseURL string

	FinnhubAPIKey              string
	FinnhubRequestDelay        time.Duration
	FinnhubMaxSymbolsPerMinute int
	FinnhubMaxSymbolsPerSecond int

	PostBuyFillPoll         time.Duration
	PremarketBuySlippageBPS float64

	EODPollInterval time.Duration
	EODPollTimeout  time.Duration
	EODClearState   bool
}

// Load reads .env (when present) and assembles Settings from the
// environment with the same defaults the service has always shipped.
func Load() (*Settings, error) {
	// Missing .env is fine: plain environment variables still apply.
	_ = godotenv.Load()

	s := &Settings{
		FinvizURL: getEnv("FINVIZ_URL",
			"https://elite.finviz.com/screener.ashx?v=111&f=sh_curvol_o1000,ta_perf_d15o&ft=4&o=-change&ar=60"),
		FinvizCookie:                      os.Getenv("FINVIZ_COOKIE"),
		FinvizRequireRefreshBeforeTrading: getEnvBool("FINVIZ_REQUIRE_REFRESH_BEFORE_TRADING", true),
		FinvizMinSymbols:                  getEnvInt("FINVIZ_MIN_SYMBOLS", 5),
		FinvizLimitMarkup:                 getEnvFloat("FINVIZ_LIMIT_MARKUP", 1.5),
		BasePositionDollars:               getEnvFloat("BASE_POSITION_DOLLARS", 1000.0),
		Timezone:                          getEnv("TIMEZONE", "America/New_York"),
		AllowWeekends:                     getEnvBool("ALLOW_WEEKENDS", false),
		StateFile:                         getEnv("STATE_FILE", "./data/state.json"),
		LogFile:                           getEnv("LOG_FILE", "./logs/finviz_trader.log"),
		PnLLogFile:                        getEnv("PNL_LOG_FILE", "./data/pnl.log"),
		BrokerBackend:                     strings.ToLower(getEnv("BROKER_BACKEND", "paper")),
		AlpacaAPIKey:                      os.Getenv("ALPACA_API_KEY"),
		AlpacaAPISecret:                   os.Getenv("ALPACA_API_SECRET"),
		AlpacaAPIBaseURL:                  getEnv("ALPACA_API_BASE_URL", "https://paper-api.alpaca.markets"),
		AlpacaDataBaseURL:                 getEnv("ALPACA_DATA_BASE_URL", "https://data.alpaca.markets"),
		FinnhubAPIKey:                     os.Getenv("FINNHUB_API_KEY"),
		FinnhubRequestDelay:               time.Duration(getEnvInt("FINNHUB_REQUEST_DELAY_MS", 250)) * time.Millisecond,
		FinnhubMaxSymbolsPerMinute:        getEnvInt("FINNHUB_MAX_SYMBOLS_PER_MINUTE", 50),
		FinnhubMaxSymbolsPerSecond:        getEnvInt("FINNHUB_MAX_SYMBOLS_PER_SECOND", 5),
		PostBuyFillPoll:                   time.Duration(getEnvInt("POST_BUY_FILL_POLL_SECONDS", 3)) * time.Second,
		PremarketBuySlippageBPS:           getEnvFloat("PREMARKET_BUY_SLIPPAGE_BPS", 50),
		EODPollInterval:                   time.Duration(getEnvInt("EOD_POLL_INTERVAL_SECONDS", 5)) * time.Second,
		EODPollTimeout:                    time.Duration(getEnvInt("EOD_POLL_TIMEOUT_SECONDS", 300)) * time.Second,
		EODClearState:                     getEnvBool("EOD_CLEAR_STATE", true),
	}

	var err error
	if s.PremarketStart, err = ParseTimeOfDay(getEnv("PREMARKET_START", "04:00")); err != nil {
		return nil, fmt.Errorf("PREMARKET_START: %w", err)
	}
	if s.RegularOpen, err = ParseTimeOfDay(getEnv("REGULAR_OPEN", "09:30")); err != nil {
		return nil, fmt.Errorf("REGULAR_OPEN: %w", err)
	}
	if s.RegularClose, err = ParseTimeOfDay(getEnv("REGULAR_CLOSE", "16:00")); err != nil {
		return nil, fmt.Errorf("REGULAR_CLOSE: %w", err)
	}
	if _, err = time.LoadLocation(s.Timezone); err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", s.Timezone, err)
	}
	return s, nil
}

// Validate checks backend preconditions that must hold before the
// scheduler starts.
func (s *Settings) Validate() error {
	switch s.BrokerBackend {
	case "alpaca":
		if s.AlpacaAPIKey == "" || s.AlpacaAPISecret == "" {
			return fmt.Errorf("ALPACA_API_KEY and ALPACA_API_SECRET are required for the alpaca backend")
		}
	case "paper", "synthetic":
	default:
		return fmt.Errorf("unknown BROKER_BACKEND %q", s.BrokerBackend)
	}
	if s.BasePositionDollars <= 0 {
		return fmt.Errorf("BASE_POSITION_DOLLARS must be positive")
	}
	if !s.PremarketStart.Before(s.RegularClose) {
		return fmt.Errorf("PREMARKET_START must precede REGULAR_CLOSE")
	}
	return nil
}

// Location resolves the configured trading time zone.
func (s *Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Package timeutil holds the small calendar helpers shared by the
// strategy and the scheduler: time-zone aware "now", the trading-hours
// window test, and minute alignment.
package timeutil

import (
	"time"

	"finviztrader/pkg/config"
)

// Clock supplies the current time. Injectable so tests can simulate
// time without sleeping.
type Clock func() time.Time

// Now returns the current time in the given zone.
func Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// ISODate formats a time as its calendar date (YYYY-MM-DD).
func ISODate(t time.Time) string {
	return t.Format("2006-01-02")
}

// IsWeekend reports Saturday/Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// WithinTradingHours reports whether current falls inside the
// premarket-start..regular-close window on a tradable day.
func WithinTradingHours(current time.Time, premarketStart, regularClose config.TimeOfDay, allowWeekends bool) bool {
	if !allowWeekends && IsWeekend(current) {
		return false
	}
	start := premarketStart.Of(current)
	end := regularClose.Of(current)
	return !current.Before(start) && !current.After(end)
}

// NextMinute returns the next wall-clock minute boundary after t.
// Aligning to the boundary instead of sleeping a fixed period keeps the
// tick cadence from drifting.
func NextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

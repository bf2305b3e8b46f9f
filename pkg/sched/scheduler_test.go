package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"finviztrader/pkg/config"
)

type countingEngine struct {
	ticks int
	eods  int
}

func (e *countingEngine) Tick() error { e.ticks++; return nil }
func (e *countingEngine) RunEOD(ctx context.Context) error { e.eods++; return nil }

func testScheduler(engine Engine) *Scheduler {
	settings := &config.Settings{
		PremarketStart: config.TimeOfDay{Hour: 4},
		RegularOpen:    config.TimeOfDay{Hour: 9, Minute: 30},
		RegularClose:   config.TimeOfDay{Hour: 16},
		Timezone:       "UTC",
	}
	return New(settings, engine, zap.NewNop())
}

func TestRunOnceTicksDuringTradingHours(t *testing.T) {
	engine := &countingEngine{}
	s := testScheduler(engine)

	// Monday 10:00.
	s.runOnce(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	require.Equal(t, 1, engine.ticks)
	require.Equal(t, 0, engine.eods)

	// Premarket counts as trading hours.
	s.runOnce(time.Date(2026, 8, 31, 4, 30, 0, 0, time.UTC))
	require.Equal(t, 2, engine.ticks)
}

func TestRunOnceFiresEODAfterClose(t *testing.T) {
	engine := &countingEngine{}
	s := testScheduler(engine)

	s.runOnce(time.Date(2026, 8, 31, 16, 30, 0, 0, time.UTC))
	require.Equal(t, 0, engine.ticks)
	require.Equal(t, 1, engine.eods)
}

func TestRunOnceIdleOutsideWindow(t *testing.T) {
	engine := &countingEngine{}
	s := testScheduler(engine)

	// Before premarket: neither tick nor close.
	s.runOnce(time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC))
	// Saturday.
	s.runOnce(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	s.runOnce(time.Date(2026, 8, 29, 17, 0, 0, 0, time.UTC))
	require.Equal(t, 0, engine.ticks)
	require.Equal(t, 0, engine.eods)
}

func TestWeekendTradingWhenAllowed(t *testing.T) {
	engine := &countingEngine{}
	s := testScheduler(engine)
	s.settings.AllowWeekends = true

	s.runOnce(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	require.Equal(t, 1, engine.ticks)
	s.runOnce(time.Date(2026, 8, 29, 17, 0, 0, 0, time.UTC))
	require.Equal(t, 1, engine.eods)
}

func TestRunStopsOnStop(t *testing.T) {
	engine := &countingEngine{}
	s := testScheduler(engine)
	s.now = func() time.Time { return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC) }
	s.sleep = func(d time.Duration) bool {
		<-s.ctx.Done()
		return false
	}

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Equal(t, 1, engine.ticks)
}

func TestStopCancelsRunningEOD(t *testing.T) {
	blocked := make(chan error, 1)
	s := testScheduler(engineFunc(func(ctx context.Context) error {
		<-ctx.Done()
		blocked <- ctx.Err()
		return ctx.Err()
	}))

	done := make(chan struct{})
	go func() {
		s.runOnce(time.Date(2026, 8, 31, 16, 30, 0, 0, time.UTC))
		close(done)
	}()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("end-of-day close did not observe cancellation")
	}
	require.ErrorIs(t, <-blocked, context.Canceled)
}

type engineFunc func(ctx context.Context) error

func (f engineFunc) Tick() error                      { return nil }
func (f engineFunc) RunEOD(ctx context.Context) error { return f(ctx) }

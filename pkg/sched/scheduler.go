// Package sched drives the trading loop: one strategy tick per
// wall-clock minute during the trading window, and the end-of-day close
// once the window has passed.
package sched

import (
	"context"
	"time"

	"go.uber.org/zap"

	"finviztrader/pkg/config"
	"finviztrader/pkg/timeutil"
)

// Engine is what the scheduler drives each minute. The context passed
// to RunEOD is cancelled on shutdown so its poll loop does not outlive
// the scheduler.
type Engine interface {
	Tick() error
	RunEOD(ctx context.Context) error
}

// Scheduler aligns strategy ticks to minute boundaries so decisions
// line up with bar closes, and fires the end-of-day close after the
// regular session ends.
type Scheduler struct {
	settings *config.Settings
	engine   Engine
	logger   *zap.Logger

	now    timeutil.Clock
	sleep  func(d time.Duration) bool
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a scheduler around the given engine.
func New(settings *config.Settings, engine Engine, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		settings: settings,
		engine:   engine,
		logger:   logger,
		now:      func() time.Time { return time.Now().In(settings.Location()) },
		ctx:      ctx,
		cancel:   cancel,
	}
	s.sleep = s.waitInterruptible
	return s
}

// Run blocks, ticking the engine once per minute, until Stop is called.
// Tick and EOD errors are logged and the loop continues; a dead minute
// is better than a dead trader.
func (s *Scheduler) Run() {
	s.logger.Info("Scheduler started",
		zap.String("premarket_start", s.settings.PremarketStart.String()),
		zap.String("regular_close", s.settings.RegularClose.String()),
		zap.String("timezone", s.settings.Timezone))
	for {
		current := s.now()
		s.runOnce(current)
		if !s.sleep(timeutil.NextMinute(current).Sub(current)) {
			s.logger.Info("Scheduler stopped")
			return
		}
	}
}

// RunOnce executes the decision for a single instant. Exposed for the
// single-shot tools.
func (s *Scheduler) RunOnce() {
	s.runOnce(s.now())
}

func (s *Scheduler) runOnce(current time.Time) {
	switch {
	case timeutil.WithinTradingHours(current, s.settings.PremarketStart, s.settings.RegularClose, s.settings.AllowWeekends):
		if err := s.engine.Tick(); err != nil {
			s.logger.Warn("Tick failed", zap.Error(err))
		}
	case s.eodDue(current):
		if err := s.engine.RunEOD(s.ctx); err != nil {
			s.logger.Warn("End-of-day close failed; will retry next minute", zap.Error(err))
		}
	}
}

// eodDue reports whether the close window has passed on a tradable day.
// The engine itself guarantees the close only runs once per date.
func (s *Scheduler) eodDue(current time.Time) bool {
	if !s.settings.AllowWeekends && timeutil.IsWeekend(current) {
		return false
	}
	return current.After(s.settings.RegularClose.Of(current))
}

// Stop terminates Run and cancels any in-flight EOD poll. Safe to call
// once.
func (s *Scheduler) Stop() {
	s.cancel()
}

func (s *Scheduler) waitInterruptible(d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

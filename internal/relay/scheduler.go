package relay

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/controlrelay/internal/domain"
)

// tickOutcome tells the namespace worker what a tick decided.
type tickOutcome struct {
	flush       bool
	autoStopped bool
}

// scheduler is the Stopped/Running state machine driving the coalescer.
// Running means a ticker exists; ticks() is nil while stopped so a select on it
// never fires.
type scheduler struct {
	clock     clockwork.Clock
	period    time.Duration
	idle      domain.IdleTimeout
	ticker    clockwork.Ticker
	coalescer coalescer
}

func newScheduler(clock clockwork.Clock, period time.Duration, idle domain.IdleTimeout) *scheduler {
	return &scheduler{clock: clock, period: period, idle: idle}
}

func (s *scheduler) running() bool {
	return s.ticker != nil
}

// start begins ticking. It returns false if the scheduler was already running.
func (s *scheduler) start() bool {
	if s.running() {
		return false
	}
	s.ticker = s.clock.NewTicker(s.period)
	s.coalescer.lastFlushAt = s.clock.Now()
	return true
}

// stop cancels the ticker and keeps the coalescer state. It returns false if the
// scheduler was already stopped.
func (s *scheduler) stop() bool {
	if !s.running() {
		return false
	}
	s.ticker.Stop()
	s.ticker = nil
	return true
}

// reconfigure applies a new period and idle timeout. A running ticker is reset
// in place so no flush is emitted by the change itself.
func (s *scheduler) reconfigure(period time.Duration, idle domain.IdleTimeout) {
	s.idle = idle
	if period == s.period {
		return
	}
	s.period = period
	if s.running() {
		s.ticker.Reset(period)
	}
}

func (s *scheduler) ticks() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.Chan()
}

func (s *scheduler) markDirty() {
	s.coalescer.markDirty()
}

func (s *scheduler) dirty() bool {
	return s.coalescer.dirty
}

// tick runs one scheduling step at now. After an idle auto-stop the coalescer is
// left dirty so the next start flushes current state immediately.
func (s *scheduler) tick(now time.Time) tickOutcome {
	var out tickOutcome
	if !s.running() {
		return out
	}

	out.flush = s.coalescer.takeFlush(now)

	if timeout, enabled := s.idle.Get(); enabled && s.coalescer.idleFor(now) > timeout {
		s.coalescer.markDirty()
		s.stop()
		out.autoStopped = true
	}
	return out
}

package task

import (
	"sync"
	"time"
)

// TickSource is a periodic wakeup for one timer domain. The dispatcher
// starts it when its queue becomes non-empty and stops it when the queue
// drains. Start and Stop are only called from the dispatcher loop.
type TickSource interface {
	Start(period time.Duration)
	Stop()
	Running() bool
	C() <-chan time.Time
}

type tickerSource struct {
	t *time.Ticker
}

// NewTicker returns a TickSource backed by time.Ticker.
func NewTicker() TickSource {
	return &tickerSource{}
}

func (s *tickerSource) Start(period time.Duration) {
	if s.t == nil {
		s.t = time.NewTicker(period)
	}
}

func (s *tickerSource) Stop() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
}

func (s *tickerSource) Running() bool {
	return s.t != nil
}

func (s *tickerSource) C() <-chan time.Time {
	if s.t == nil {
		return nil
	}
	return s.t.C
}

// ManualTicks is a TickSource driven by Tick, for deterministic tests and
// for simulators stepping time by hand.
type ManualTicks struct {
	mu      sync.Mutex
	running bool
	period  time.Duration
	starts  int
	stops   int
	ch      chan time.Time
}

// NewManualTicks returns a stopped ManualTicks.
func NewManualTicks() *ManualTicks {
	return &ManualTicks{ch: make(chan time.Time)}
}

func (m *ManualTicks) Start(period time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		m.running = true
		m.period = period
		m.starts++
	}
}

func (m *ManualTicks) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.running = false
		m.stops++
	}
}

func (m *ManualTicks) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *ManualTicks) C() <-chan time.Time {
	return m.ch
}

// Tick delivers one tick if the source is running and reports whether it did.
// It blocks until the dispatcher receives the tick.
func (m *ManualTicks) Tick() bool {
	if !m.Running() {
		return false
	}
	m.ch <- time.Now()
	return true
}

// Counts returns how many times the source was started and stopped.
func (m *ManualTicks) Counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

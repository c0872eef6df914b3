// Package clock provides the tick source that drives throughput aggregation.
// The wall implementation wraps a time.Ticker; the manual implementation lets
// tests advance measurement time deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock produces timestamped aggregation ticks.
type Clock interface {
	// Ticks returns the channel on which ticks are delivered.
	Ticks() <-chan time.Time
	// Now reports the current time as seen by this clock.
	Now() time.Time
	// Stop ends tick delivery and releases resources.
	Stop()
}

type wallClock struct {
	ticker *time.Ticker
}

// NewWall returns a Clock backed by a time.Ticker firing every interval.
func NewWall(interval time.Duration) Clock {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &wallClock{ticker: time.NewTicker(interval)}
}

func (c *wallClock) Ticks() <-chan time.Time { return c.ticker.C }
func (c *wallClock) Now() time.Time          { return time.Now() }
func (c *wallClock) Stop()                   { c.ticker.Stop() }

// Manual is a hand-driven Clock for tests. Advance moves the clock forward
// and delivers exactly one tick, blocking until the consumer receives it.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	ch  chan time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, ch: make(chan time.Time)}
}

func (m *Manual) Ticks() <-chan time.Time { return m.ch }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Stop() {}

// Advance moves the clock by d and delivers a tick stamped with the new time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	m.mu.Unlock()
	m.ch <- now
}

// TryAdvance is Advance with a non-blocking delivery. It reports whether a
// consumer accepted the tick; the clock still moves forward either way.
func (m *Manual) TryAdvance(d time.Duration) bool {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	m.mu.Unlock()
	select {
	case m.ch <- now:
		return true
	default:
		return false
	}
}

// Set moves the clock to t without delivering a tick.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Package ticker abstracts periodic tick delivery so background loops can
// be driven manually in tests.
package ticker

import "time"

// Ticker delivers periodic ticks to a background loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Factory creates a Ticker for the given interval.
type Factory func(interval time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

// Real creates a wall-clock ticker.
func Real(interval time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(interval)}
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Manual is a hand-driven ticker for tests.
type Manual struct {
	ch chan time.Time
}

// NewManual creates a manual ticker. Each Tick call delivers exactly one
// tick and blocks until the loop receives it.
func NewManual() *Manual {
	return &Manual{ch: make(chan time.Time)}
}

// ManualFactory returns a Factory that always hands out m, ignoring the
// requested interval.
func ManualFactory(m *Manual) Factory {
	return func(time.Duration) Ticker { return m }
}

func (m *Manual) C() <-chan time.Time { return m.ch }
func (m *Manual) Stop()               {}

// Tick delivers one tick to the loop.
func (m *Manual) Tick() {
	m.ch <- time.Now()
}

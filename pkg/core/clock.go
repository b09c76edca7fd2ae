// SPDX-License-Identifier: Apache-2.0
// Package core provides the shared kernel for the observability core:
// the clock abstraction used by all periodic tasks and the wire time type.
package core

import (
	"sync"
	"time"
)

// Clock abstracts time for the periodic tasks in the core (health runner,
// metrics collector, notification queue). Production code uses RealClock;
// tests use ManualClock to advance virtual time deterministically instead
// of sleeping in wall-clock time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the minimal ticker surface the core needs.
type Ticker interface {
	// C returns the tick channel.
	C() <-chan time.Time

	// Stop stops the ticker. Safe to call multiple times.
	Stop()
}

// RealClock is the wall-clock implementation of Clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// NewTicker returns a ticker backed by time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
	once   sync.Once
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }

func (t *realTicker) Stop() {
	t.once.Do(func() { t.ticker.Stop() })
}

// ManualClock is a Clock whose time only moves when Advance is called.
// Tickers created from it fire synchronously during Advance, so timer
// behavior can be tested without sleeping.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManualClock creates a ManualClock starting at the given time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current virtual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker returns a virtual ticker driven by Advance.
func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{
		clock:    c,
		interval: d,
		next:     c.now.Add(d),
		ch:       make(chan time.Time, 64),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves virtual time forward by d, delivering ticks to every
// ticker whose deadline is reached. Ticks are delivered in deadline order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var earliest *manualTicker
		for _, t := range c.tickers {
			if t.stopped {
				continue
			}
			if !t.next.After(target) && (earliest == nil || t.next.Before(earliest.next)) {
				earliest = t
			}
		}
		if earliest == nil {
			break
		}
		c.now = earliest.next
		earliest.next = earliest.next.Add(earliest.interval)
		select {
		case earliest.ch <- c.now:
		default:
			// Slow consumer; drop the tick like time.Ticker does.
		}
	}
	c.now = target
	c.mu.Unlock()
}

type manualTicker struct {
	clock    *ManualClock
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}

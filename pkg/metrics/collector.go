// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
)

// Collector periodically samples process runtime state (heap, goroutines,
// GC) into the store. It is the metrics-collection timer of the core.
type Collector struct {
	store    *Store
	interval time.Duration
	clock    core.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	cancel chan struct{}
	done   chan struct{}
}

// NewCollector creates a runtime metrics collector.
func NewCollector(store *Store, interval time.Duration, clock core.Clock, logger *slog.Logger) *Collector {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		store:    store,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Start begins periodic collection. Calling Start while running is a
// logged no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.logger.Info("metrics.collector.already_running")
		return
	}
	if c.interval <= 0 {
		c.logger.Info("metrics.collector.disabled")
		return
	}

	cancel := make(chan struct{})
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	// The ticker must exist before Start returns so its first deadline
	// is registered against the current clock time.
	ticker := c.clock.NewTicker(c.interval)
	c.logger.Info("metrics.collector.start", slog.Duration("interval", c.interval))

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				c.logger.Info("metrics.collector.stop")
				return
			case <-ticker.C():
				c.collect()
			}
		}
	}()
}

// Stop cancels periodic collection and waits for the worker to exit.
// Safe to call multiple times.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	close(cancel)
	<-done
}

// collect records one snapshot of runtime state.
func (c *Collector) collect() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	c.store.Record("runtime.heap.alloc", float64(stats.HeapAlloc), "bytes", nil)
	c.store.Record("runtime.heap.objects", float64(stats.HeapObjects), "", nil)
	c.store.Record("runtime.gc.count", float64(stats.NumGC), "", nil)
	c.store.Record("runtime.goroutines", float64(runtime.NumGoroutine()), "", nil)
}

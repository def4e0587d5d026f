package reconciliation

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = time.Minute

// Timer sweeps on a fixed period. The first sweep runs as soon as Start is
// called so attempts left pending by a previous process are picked up
// without waiting a full period.
type Timer struct {
	runner   *Runner
	interval time.Duration
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	last     atomic.Pointer[Report]
}

// NewTimer returns a timer for runner. A non-positive interval selects
// DefaultInterval.
func NewTimer(runner *Runner, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timer{runner: runner, interval: interval, logger: logger, stop: make(chan struct{})}
}

// Running reports whether Start is looping.
func (t *Timer) Running() bool { return t.running.Load() }

// Last returns the report of the most recent successful sweep, or nil.
func (t *Timer) Last() *Report { return t.last.Load() }

// Start blocks, sweeping every interval until ctx is done or Stop is called.
func (t *Timer) Start(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	defer t.running.Store(false)

	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		t.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-tick.C:
		}
	}
}

// Stop ends the loop. It may be called before Start and more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// sweep runs one pass and keeps a panic in it from killing the loop.
func (t *Timer) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			reconcileErrors.Inc()
			t.logger.Error("reconciliation panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	report, err := t.runner.RunAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("reconciliation run failed", "error", err)
		}
		return
	}
	t.last.Store(report)
}

// Package health runs the named dependency checks behind /health and
// /health/ready.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/circuitbreaker"
)

// DefaultCheckTimeout bounds a single checker.
const DefaultCheckTimeout = 3 * time.Second

// Status is one dependency's result.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker probes one dependency. It should honour ctx.
type Checker func(ctx context.Context) Status

type entry struct {
	name  string
	check Checker
}

// Registry holds checkers in registration order.
type Registry struct {
	timeout time.Duration

	mu      sync.RWMutex
	entries []entry
}

// NewRegistry returns an empty registry using DefaultCheckTimeout.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultCheckTimeout}
}

// Register adds a checker. Names need not be unique.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{name, check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently, each under the registry
// timeout, and reports whether all passed. Statuses keep registration
// order. A panicking checker counts as unhealthy.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	statuses := make([]Status, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			statuses[i] = r.run(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	for _, st := range statuses {
		if !st.Healthy {
			return false, statuses
		}
	}
	return true, statuses
}

func (r *Registry) run(ctx context.Context, e entry) (st Status) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			st = Status{Healthy: false, Detail: fmt.Sprintf("check panicked: %v", p)}
		}
		if st.Name == "" {
			st.Name = e.name
		}
		st.LatencyMS = time.Since(start).Milliseconds()
	}()
	return e.check(ctx)
}

// Ping adapts a ping function, such as (*sql.DB).PingContext, to a Checker.
func Ping(name string, ping func(context.Context) error) Checker {
	return func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return Status{Name: name, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// LedgerNode is what the ledger check needs from the gateway.
type LedgerNode interface {
	Ping(ctx context.Context) error
	CircuitState() circuitbreaker.State
}

// Ledger fails fast while the node's circuit is open instead of spending
// a request on it.
func Ledger(node LedgerNode) Checker {
	ping := Ping("ledger", node.Ping)
	return func(ctx context.Context) Status {
		if st := node.CircuitState(); st == circuitbreaker.StateOpen {
			return Status{Name: "ledger", Detail: "circuit " + st.String()}
		}
		return ping(ctx)
	}
}

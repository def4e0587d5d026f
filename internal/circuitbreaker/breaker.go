// Package circuitbreaker stops calling a ledger node that keeps failing.
//
// A breaker is closed while calls succeed. After threshold consecutive
// failures it opens and rejects calls for the cooldown, then lets a single
// probe through (half-open). The probe's outcome closes or reopens it.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
)

var (
	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blocksmith",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by endpoint.",
	}, []string{"endpoint", "from_state", "to_state"})

	openGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "blocksmith",
		Subsystem: "circuitbreaker",
		Name:      "open",
		Help:      "1 while the endpoint's breaker rejects calls.",
	}, []string{"endpoint"})
)

func init() {
	prometheus.MustRegister(transitions, openGauge)
}

// Breaker guards one endpoint.
type Breaker struct {
	endpoint  string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probeAt  time.Time
}

// New creates a closed breaker for endpoint. Non-positive arguments take
// the defaults.
func New(endpoint string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		endpoint:  endpoint,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may go out now. Once the cooldown has
// passed, exactly one caller is admitted as the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.probeAt = b.now()
		b.setState(StateHalfOpen)
		return true
	case StateHalfOpen:
		// A probe that never reported back does not hold the breaker forever.
		if b.now().Sub(b.probeAt) < b.cooldown {
			return false
		}
		b.probeAt = b.now()
		return true
	default:
		return true
	}
}

// Success records a call that reached the node.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.setState(StateClosed)
}

// Failure records a call that did not reach the node.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.threshold) {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// caller holds b.mu
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	transitions.WithLabelValues(b.endpoint, from.String(), to.String()).Inc()
	if to == StateOpen {
		openGauge.WithLabelValues(b.endpoint).Set(1)
	} else {
		openGauge.WithLabelValues(b.endpoint).Set(0)
	}
}

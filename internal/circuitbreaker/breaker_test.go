package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const node = "https://s.altnet.rippletest.net:51234"

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(endpoint string, threshold int, cooldown time.Duration) (*Breaker, *clock) {
	c := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := New(endpoint, threshold, cooldown)
	b.now = c.now
	return b, c
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(node, 3, time.Minute)

	assert.True(t, b.Allow())
	b.Failure()
	b.Failure()
	assert.True(t, b.Allow(), "still closed below the threshold")

	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(node, 3, time.Minute)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.State(), "failures must be consecutive")
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clk := newTestBreaker(node, 1, 30*time.Second)

	b.Failure()
	require.Equal(t, StateOpen, b.State())

	clk.advance(29 * time.Second)
	assert.False(t, b.Allow(), "cooldown not over")

	clk.advance(time.Second)
	assert.True(t, b.Allow(), "first caller after cooldown is the probe")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe at a time")

	b.Success()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(node, 2, 10*time.Second)

	b.Failure()
	b.Failure()
	clk.advance(10 * time.Second)
	require.True(t, b.Allow())

	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow(), "cooldown restarts from the failed probe")

	clk.advance(10 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreaker_AbandonedProbe(t *testing.T) {
	b, clk := newTestBreaker(node, 1, 5*time.Second)

	b.Failure()
	clk.advance(5 * time.Second)
	require.True(t, b.Allow())

	clk.advance(4 * time.Second)
	assert.False(t, b.Allow())
	clk.advance(time.Second)
	assert.True(t, b.Allow(), "a new probe goes out once the old one is a cooldown stale")
}

func TestBreaker_Defaults(t *testing.T) {
	b := New(node, 0, 0)
	assert.Equal(t, DefaultThreshold, b.threshold)
	assert.Equal(t, DefaultCooldown, b.cooldown)
}

func TestBreaker_Metrics(t *testing.T) {
	endpoint := "http://metrics-test:5005"
	b, clk := newTestBreaker(endpoint, 1, time.Second)

	b.Failure()
	assert.Equal(t, float64(1), testutil.ToFloat64(openGauge.WithLabelValues(endpoint)))
	assert.Equal(t, float64(1), testutil.ToFloat64(transitions.WithLabelValues(endpoint, "closed", "open")))

	clk.advance(time.Second)
	b.Allow()
	b.Success()
	assert.Equal(t, float64(0), testutil.ToFloat64(openGauge.WithLabelValues(endpoint)))
	assert.Equal(t, float64(1), testutil.ToFloat64(transitions.WithLabelValues(endpoint, "half_open", "closed")))
}

func TestBreaker_SingleProbeUnderContention(t *testing.T) {
	b, clk := newTestBreaker(node, 1, time.Second)
	b.Failure()
	clk.advance(time.Second)

	var (
		admitted atomic.Int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

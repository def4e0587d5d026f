// Package metrics holds the service-wide Prometheus collectors. Packages
// with private instruments (xrpl, reconciliation, circuitbreaker) register
// their own.
package metrics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blocksmith"

// HTTP surface.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by method, route and status class.",
	}, []string{"method", "route", "class"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API latency by route. Ledger-bound routes sit in the upper buckets.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "route"})

	ActiveWebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected event stream clients.",
	})
)

// Escrow lifecycle.
var (
	EscrowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escrow",
		Name:      "transitions_total",
		Help:      "Escrows entering each lifecycle state.",
	}, []string{"state"})

	EscrowFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escrow",
		Name:      "failures_total",
		Help:      "Lifecycle operations that left the escrow unchanged, by operation and reason.",
	}, []string{"op", "reason"})

	EscrowPendingAttempts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "escrow",
		Name:      "pending_attempts",
		Help:      "Submissions whose ledger outcome is still unknown.",
	})

	EscrowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "escrow",
		Name:      "lifetime_seconds",
		Help:      "Time from EscrowCreate to finish or cancel.",
		Buckets:   prometheus.ExponentialBuckets(10, 3, 10),
	})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "claim",
		Name:      "decisions_total",
		Help:      "Claim decisions received, by token.",
	}, []string{"decision"})
)

// RegisterDBStats exports connection pool statistics for db. Calling it
// twice for the same name fails.
func RegisterDBStats(db *sql.DB, name string) error {
	return prometheus.Register(collectors.NewDBStatsCollector(db, name))
}

// Middleware records request count and latency. Routes are labelled by
// their pattern so escrow ids never become label values.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

package xrpl

import "github.com/prometheus/client_golang/prometheus"

var (
	rpcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blocksmith",
		Subsystem: "xrpl",
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC calls by method and outcome.",
	}, []string{"method", "outcome"})

	rpcDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blocksmith",
		Subsystem: "xrpl",
		Name:      "rpc_duration_seconds",
		Help:      "JSON-RPC round-trip latency by method.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})

	txSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blocksmith",
		Subsystem: "xrpl",
		Name:      "tx_submissions_total",
		Help:      "Submitted transactions by type and final result.",
	}, []string{"tx_type", "result"})

	txConfirmation = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blocksmith",
		Subsystem: "xrpl",
		Name:      "tx_confirmation_seconds",
		Help:      "Time from submission to validated result.",
		Buckets:   []float64{1, 2, 4, 6, 10, 15, 30, 60, 120},
	}, []string{"tx_type"})
)

func init() {
	prometheus.MustRegister(rpcRequests, rpcDuration, txSubmissions, txConfirmation)
}

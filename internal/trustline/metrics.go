package trustline

import "github.com/prometheus/client_golang/prometheus"

var (
	preflightRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blocksmith",
		Subsystem: "trustline",
		Name:      "preflight_rejections_total",
		Help:      "Preflight rejections by precondition code.",
	}, []string{"code"})

	topUps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "blocksmith",
		Subsystem: "trustline",
		Name:      "top_ups_total",
		Help:      "Token shortfalls issued to holders.",
	})
)

func init() {
	prometheus.MustRegister(preflightRejections, topUps)
}

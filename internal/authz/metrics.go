package authz

import "github.com/prometheus/client_golang/prometheus"

var (
	issuanceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapgate",
		Subsystem: "authz",
		Name:      "issuance_total",
		Help:      "Authorization requests by outcome.",
	}, []string{"outcome"}) // "issued", "rejected", "sanctions_unavailable", "signing_unavailable", "nonce_collision", "invalid", "error"

	issuanceLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swapgate",
		Subsystem: "authz",
		Name:      "issuance_duration_seconds",
		Help:      "End-to-end issuance latency in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	noncesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swapgate",
		Subsystem: "authz",
		Name:      "nonces_expired_total",
		Help:      "Issued nonces retired unspent after their deadline.",
	})
)

func init() {
	prometheus.MustRegister(issuanceTotal, issuanceLatency, noncesExpired)
}

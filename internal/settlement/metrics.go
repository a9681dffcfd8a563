package settlement

import "github.com/prometheus/client_golang/prometheus"

var (
	settlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapgate",
		Subsystem: "settlement",
		Name:      "executions_total",
		Help:      "Settlement attempts by outcome.",
	}, []string{"outcome"})

	settlementLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swapgate",
		Subsystem: "settlement",
		Name:      "execution_duration_seconds",
		Help:      "Settlement latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	volumeTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swapgate",
		Subsystem: "settlement",
		Name:      "volume_usdc_total",
		Help:      "Gross USDC settled.",
	})

	feesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swapgate",
		Subsystem: "settlement",
		Name:      "fees_usdc_total",
		Help:      "Fees collected in USDC.",
	})
)

func init() {
	prometheus.MustRegister(settlementsTotal, settlementLatency, volumeTotal, feesTotal)
}

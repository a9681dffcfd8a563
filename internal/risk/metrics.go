package risk

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	assessmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapgate",
		Subsystem: "risk",
		Name:      "assessments_total",
		Help:      "Risk assessments by tier and outcome.",
	}, []string{"tier", "approved"})

	scoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swapgate",
		Subsystem: "risk",
		Name:      "score",
		Help:      "Distribution of risk scores.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	flagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapgate",
		Subsystem: "risk",
		Name:      "flags_total",
		Help:      "Flags raised by the rule table.",
	}, []string{"flag"})
)

func init() {
	prometheus.MustRegister(assessmentsTotal, scoreDistribution, flagsTotal)
}

// Observe records a into the risk metrics.
func Observe(a *Assessment) {
	assessmentsTotal.WithLabelValues(string(a.Tier), strconv.FormatBool(a.Approved)).Inc()
	scoreDistribution.Observe(float64(a.Score))
	for _, f := range a.Flags {
		flagsTotal.WithLabelValues(string(f)).Inc()
	}
}

package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	stepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_steps_total",
			Help: "Total number of completed search steps.",
		},
	)

	nodesProposedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_nodes_proposed_total",
			Help: "Total number of candidate nodes proposed.",
		},
	)

	nodesEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_nodes_evaluated_total",
			Help: "Total number of candidate nodes evaluated, by outcome.",
		},
		[]string{"outcome"},
	)

	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_phase_duration_seconds",
			Help:    "Duration of each step phase in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	bestMetricGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crucible_best_metric",
			Help: "Best raw metric among non-buggy nodes so far, in the task's own direction.",
		},
	)
)

func init() {
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(nodesProposedTotal)
	prometheus.MustRegister(nodesEvaluatedTotal)
	prometheus.MustRegister(phaseDuration)
	prometheus.MustRegister(bestMetricGauge)
}

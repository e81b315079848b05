package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kalambet/penny/internal/composer"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "penny",
		Name:      "queries_total",
		Help:      "Queries resolved, by answer method.",
	}, []string{"method"})

	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "penny",
		Name:      "classifications_total",
		Help:      "Intent classifications, by deciding tier.",
	}, []string{"source"})

	degradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "penny",
		Name:      "degraded_answers_total",
		Help:      "Answers that fell back to deterministic text.",
	})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "penny",
		Name:      "query_duration_seconds",
		Help:      "End-to-end query resolution latency.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method"})
)

func observeQuery(meta composer.Metadata, source string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(meta.Method).Inc()
	classificationsTotal.WithLabelValues(source).Inc()
	if meta.Degraded {
		degradedTotal.Inc()
	}
	queryDuration.WithLabelValues(meta.Method).Observe(elapsed.Seconds())
}

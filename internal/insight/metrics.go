package insight

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysisTotal counts analysis runs by outcome status.
	// Labels: status (complete, timed_out, error, empty)
	AnalysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "insight",
			Name:      "analysis_total",
			Help:      "Total number of network analysis runs",
		},
		[]string{"status"},
	)

	// AnalysisDuration tracks analysis run latency.
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "insight",
			Name:      "analysis_duration_seconds",
			Help:      "Duration of network analysis runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

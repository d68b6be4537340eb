package tier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreTotal counts store operations by result.
	// Labels: result (success, error)
	StoreTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "tier",
			Name:      "store_total",
			Help:      "Total number of memory store operations",
		},
		[]string{"result"},
	)

	// RetrieveTotal counts retrieval operations by result.
	// Labels: result (success, degraded, emergency_safe)
	RetrieveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "tier",
			Name:      "retrieve_total",
			Help:      "Total number of memory retrieval operations",
		},
		[]string{"result"},
	)

	// RetrieveDuration tracks retrieval fan-out latency.
	RetrieveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "tier",
			Name:      "retrieve_duration_seconds",
			Help:      "Duration of retrieval fan-out in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// TierFailures counts per-tier failures recovered by exclusion.
	// Labels: tier (cache, archive, semantic, graph)
	TierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "tier",
			Name:      "failures_total",
			Help:      "Total number of tier failures recovered by exclusion",
		},
		[]string{"tier"},
	)
)

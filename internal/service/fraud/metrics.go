package fraud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Rule evaluations by rule code and outcome",
		},
		[]string{"rule_code", "outcome"},
	)

	signalsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "signals_created_total",
			Help:      "New fraud signals by rule code",
		},
		[]string{"rule_code"},
	)

	signalsTouchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "signals_touched_total",
			Help:      "Deduplicated repeat matches absorbed by open signals",
		},
		[]string{"rule_code"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "dispatch_total",
			Help:      "Dispatched rule actions by action kind",
		},
		[]string{"action"},
	)

	blocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "blocks_total",
			Help:      "Hard blocks applied by rule block actions",
		},
	)

	notifyFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "notify_failures_total",
			Help:      "Best-effort notification deliveries that failed",
		},
	)

	scoreRecalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "score_recalculations_total",
			Help:      "Risk score recalculations by resulting level",
		},
		[]string{"level"},
	)

	ruleCacheReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "rule_cache_reloads_total",
			Help:      "Rule snapshot reloads from storage",
		},
	)

	reportActivityDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraud",
			Subsystem: "engine",
			Name:      "report_activity_duration_seconds",
			Help:      "End-to-end ReportActivity latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translator_tasks_total",
			Help: "Total number of processed tasks by type and status.",
		},
		[]string{"type", "status"},
	)

	ActiveTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "translator_active_tasks",
			Help: "Number of in-flight request tasks by type.",
		},
		[]string{"type"},
	)

	TaskLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "translator_task_latency_seconds",
			Help:    "End to end latency of processed tasks.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"type"},
	)

	LaneDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "translator_lane_depth",
			Help: "Number of queued items per lane.",
		},
		[]string{"lane"},
	)

	LaneWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "translator_lane_workers",
			Help: "Number of workers per lane.",
		},
		[]string{"lane"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translator_cache_lookups_total",
			Help: "Translation cache lookups by result.",
		},
		[]string{"result"},
	)

	ScalingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translator_scaling_events_total",
			Help: "Worker pool scaling events by lane and direction.",
		},
		[]string{"lane", "direction"},
	)

	QualityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translator_quality_rejections_total",
			Help: "Results rejected by the quality gate by reason.",
		},
		[]string{"reason"},
	)

	SkippedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translator_skipped_messages_total",
			Help: "Messages skipped at ingress by reason.",
		},
		[]string{"reason"},
	)

	PoolFullRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translator_pool_full_total",
			Help: "Jobs rejected because their lane was full.",
		},
		[]string{"lane"},
	)

	DroppedEnvelopes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translator_dropped_envelopes_total",
			Help: "Inbound messages dropped at ingress by reason.",
		},
		[]string{"reason"},
	)
)

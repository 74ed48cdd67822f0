package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	StreamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustengine_stream_messages_total",
			Help: "BGP stream messages received, by outcome.",
		},
		[]string{"outcome"},
	)

	StreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trustengine_stream_reconnects_total",
			Help: "BGP stream reconnect attempts.",
		},
	)

	FeedFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustengine_feed_fetches_total",
			Help: "Threat feed downloads, by feed and outcome.",
		},
		[]string{"feed", "outcome"},
	)

	ThreatMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustengine_threat_matches_total",
			Help: "Threat events emitted, by detector source.",
		},
		[]string{"source"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustengine_jobs_enqueued_total",
			Help: "Scoring jobs enqueued, by producer component.",
		},
		[]string{"component"},
	)

	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustengine_jobs_processed_total",
			Help: "Scoring jobs consumed, by outcome.",
		},
		[]string{"outcome"},
	)

	ScoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trustengine_scoring_duration_seconds",
			Help:    "End-to-end duration of a single scoring run.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustengine_db_write_duration_seconds",
			Help:    "Store write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"store", "op"},
	)

	BatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustengine_batch_size",
			Help:    "Batch sizes flushed to the event store.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
		},
		[]string{"pipeline"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustengine_api_requests_total",
			Help: "API requests, by endpoint and status code.",
		},
		[]string{"endpoint", "status"},
	)

	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustengine_cache_ops_total",
			Help: "Score-card cache operations (hit, miss, error).",
		},
		[]string{"result"},
	)
)

func Register() {
	prometheus.MustRegister(
		StreamMessagesTotal,
		StreamReconnectsTotal,
		FeedFetchesTotal,
		ThreatMatchesTotal,
		JobsEnqueuedTotal,
		JobsProcessedTotal,
		ScoringDuration,
		DBWriteDuration,
		BatchSize,
		APIRequestsTotal,
		CacheOpsTotal,
	)
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector holds all Prometheus metrics for the service.
type MetricsCollector struct {
	// Ingestion metrics
	IngestRunsTotal     *prometheus.CounterVec
	IngestRunDuration   *prometheus.HistogramVec
	IngestedFilesTotal  prometheus.Counter
	IngestedChunksTotal prometheus.Counter
	IngestErrorsTotal   *prometheus.CounterVec

	// Embedding metrics
	EmbeddingRequests    *prometheus.CounterVec
	EmbeddingDuration    *prometheus.HistogramVec
	EmbeddingCacheHits   prometheus.Counter
	EmbeddingCacheMisses prometheus.Counter

	// Vector store metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec
	WebhookDuplicates  prometheus.Counter

	// Queue metrics
	QueueDepth        prometheus.Gauge
	QueueJobsTotal    *prometheus.CounterVec
	DeadLetteredTotal prometheus.Counter

	// Query metrics
	QueryRequests   *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	QueryStrategies *prometheus.CounterVec
}

// NewMetricsCollector creates and registers all Prometheus metrics.
func NewMetricsCollector(namespace string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates metrics with a specific registry (for testing).
func NewMetricsCollectorWithRegistry(namespace string, reg prometheus.Registerer) *MetricsCollector {
	if namespace == "" {
		namespace = "codechat"
	}

	return &MetricsCollector{
		IngestRunsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_runs_total",
				Help:      "Total ingestion runs by kind and status",
			},
			[]string{"kind", "status"},
		),
		IngestRunDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_run_duration_seconds",
				Help:      "Ingestion run duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		IngestedFilesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_files_total",
				Help:      "Total files processed by the ingester",
			},
		),
		IngestedChunksTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_chunks_total",
				Help:      "Total chunks upserted to the vector store",
			},
		),
		IngestErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_errors_total",
				Help:      "Total per-file ingestion errors by operation",
			},
			[]string{"operation"},
		),
		EmbeddingRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Total embedding API requests by status",
			},
			[]string{"status"},
		),
		EmbeddingDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embedding_request_duration_seconds",
				Help:      "Embedding batch request duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"model"},
		),
		EmbeddingCacheHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_cache_hits_total",
				Help:      "Embedding cache hits",
			},
		),
		EmbeddingCacheMisses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_cache_misses_total",
				Help:      "Embedding cache misses",
			},
		),
		StoreOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vectorstore_operations_total",
				Help:      "Vector store operations by kind and status",
			},
			[]string{"operation", "status"},
		),
		StoreDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vectorstore_operation_duration_seconds",
				Help:      "Vector store operation duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 20},
			},
			[]string{"operation"},
		),
		WebhookEventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		WebhookDuplicates: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_duplicates_total",
				Help:      "Webhook deliveries deduplicated by delivery ID",
			},
		),
		QueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Jobs waiting in the ingestion queue",
			},
		),
		QueueJobsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_jobs_total",
				Help:      "Queue jobs by terminal status",
			},
			[]string{"status"},
		),
		DeadLetteredTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_dead_lettered_total",
				Help:      "Jobs moved to the dead-letter stream",
			},
		),
		QueryRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_requests_total",
				Help:      "Retrieval queries by classified type and status",
			},
			[]string{"query_type", "status"},
		),
		QueryDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "End-to-end query duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"query_type"},
		),
		QueryStrategies: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_strategies_total",
				Help:      "Strategy executions by name and status",
			},
			[]string{"strategy", "status"},
		),
	}
}

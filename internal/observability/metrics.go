// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Pipeline metrics
	PipelineRunsTotal prometheus.Counter
	PipelineDuration  prometheus.Histogram
	TasksProcessed    *prometheus.CounterVec
	TaskErrors        *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec

	// Feature metrics
	CandlesFetched    prometheus.Counter
	FeaturesComputed  prometheus.Counter
	FeaturesPersisted prometheus.Counter

	// Quality metrics
	AnomaliesDetected   *prometheus.CounterVec
	QualityOverallScore prometheus.Gauge
	QualityComponent    *prometheus.GaugeVec

	// Resilience metrics
	BreakerState     *prometheus.GaugeVec
	RecoveryAttempts *prometheus.CounterVec

	// Ingestion metrics
	CandlesIngested prometheus.Counter
	WSReconnects    prometheus.Counter

	// Health metrics
	LastSuccessfulPipeline prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_feature_lab"
	}

	return &Metrics{
		// Pipeline metrics
		PipelineRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		TasksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tasks_processed_total",
			Help:      "Total number of tasks processed by status",
		}, []string{"status"}),
		TaskErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "task_errors_total",
			Help:      "Total number of terminal task errors by code",
		}, []string{"code"}),
		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "task_duration_seconds",
			Help:      "Per-task compute duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"timeframe"}),

		// Feature metrics
		CandlesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "candles_fetched_total",
			Help:      "Total number of candles fetched from the candle store",
		}),
		FeaturesComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "records_computed_total",
			Help:      "Total number of feature records computed",
		}),
		FeaturesPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "records_persisted_total",
			Help:      "Total number of feature records persisted",
		}),

		// Quality metrics
		AnomaliesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "anomalies_detected_total",
			Help:      "Total number of anomalies detected by type",
		}, []string{"type"}),
		QualityOverallScore: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "overall_score",
			Help:      "Overall quality score of the last run (0-100)",
		}),
		QualityComponent: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "component_score",
			Help:      "Per-component quality score of the last run (0-100)",
		}, []string{"component"}),

		// Resilience metrics
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),
		RecoveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "recovery_attempts_total",
			Help:      "Total number of recovery attempts by operation",
		}, []string{"operation"}),

		// Ingestion metrics
		CandlesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_ingested_total",
			Help:      "Total number of candles ingested over WebSocket",
		}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnects",
		}),

		// Health metrics
		LastSuccessfulPipeline: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_pipeline_timestamp",
			Help:      "Unix timestamp of last successful pipeline run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "building_anim"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion service.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	SourceErrors    prometheus.Counter

	// Ingestion metrics.
	Ingestions        *prometheus.CounterVec // labels: outcome={success,error,superseded}
	IngestionDuration prometheus.Histogram
	IngestionProgress prometheus.Gauge
	SkippedRows       *prometheus.CounterVec // labels: reason={malformed,missing_sample,summary}
	FramesBuilt       prometheus.Gauge
	NodesLocated      prometheus.Gauge

	// Publishing metrics.
	FramesPublished prometheus.Counter
	PublishErrors   prometheus.Counter

	// Serving metrics.
	FrameCache          *prometheus.CounterVec // labels: result={hit,miss}
	ProgressSubscribers prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.SourceErrors,
		m.Ingestions,
		m.IngestionDuration,
		m.IngestionProgress,
		m.SkippedRows,
		m.FramesBuilt,
		m.NodesLocated,
		m.FramesPublished,
		m.PublishErrors,
		m.FrameCache,
		m.ProgressSubscribers,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		SourceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Failures reading the dataset from its source.",
		}),
		Ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Completed ingestions by outcome.",
		}, []string{"outcome"}),
		IngestionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Duration of a full parse-merge-frames build.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		IngestionProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestion_progress_percent",
			Help:      "Progress of the most recent ingestion, 0-100.",
		}),
		SkippedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_skipped_total",
			Help:      "Rows or samples the displacement parser recovered from, by reason.",
		}, []string{"reason"}),
		FramesBuilt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames",
			Help:      "Frames in the current animation data.",
		}),
		NodesLocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_located",
			Help:      "Mapped nodes with a known position in the current animation data.",
		}),
		FramesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_published_total",
			Help:      "Frame summaries written to the sink topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed publish attempts.",
		}),
		FrameCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_cache_total",
			Help:      "Encoded frame cache lookups by result.",
		}, []string{"result"}),
		ProgressSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_subscribers",
			Help:      "Connected progress stream clients.",
		}),
	}
}

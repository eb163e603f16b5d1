package autosave

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skyinv/Seedream-MCP/internal/storage"
)

const metricsNamespace = "seedream_autosave"

// Metrics holds the auto-save collectors.
type Metrics struct {
	savesTotal      *prometheus.CounterVec
	saveDuration    *prometheus.HistogramVec
	savedBytes      prometheus.Counter
	downloadTries   prometheus.Histogram
	inflight        prometheus.Gauge
	batchesTotal    prometheus.Counter
	cleanupFiles    prometheus.Counter
	cleanupBytes    prometheus.Counter
	cleanupFailures prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		savesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "saves_total",
				Help:      "Total number of save operations",
			},
			[]string{"source", "status", "code"},
		),
		saveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "save_duration_seconds",
				Help:      "Save duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		),
		savedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "saved_bytes_total",
			Help:      "Total bytes written to disk",
		}),
		downloadTries: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "download_attempts",
			Help:      "Attempts needed per successful download",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "inflight_saves",
			Help:      "Batch saves currently in progress",
		}),
		batchesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_total",
			Help:      "Total number of batch operations",
		}),
		cleanupFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cleanup_deleted_files_total",
			Help:      "Files removed by retention cleanup",
		}),
		cleanupBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cleanup_deleted_bytes_total",
			Help:      "Bytes removed by retention cleanup",
		}),
		cleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cleanup_errors_total",
			Help:      "Per-file errors during retention cleanup",
		}),
	}
}

func (m *Metrics) observeSave(kind SourceKind, r Result, elapsed time.Duration) {
	status := "success"
	code := ""
	if !r.Success {
		status = "failure"
		code = string(r.ErrorCode)
	}
	m.savesTotal.WithLabelValues(string(kind), status, code).Inc()
	m.saveDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	if r.Success && r.Metadata != nil {
		m.savedBytes.Add(float64(r.Metadata.FileSize))
		if kind == KindURL {
			m.downloadTries.Observe(float64(r.Metadata.Attempts))
		}
	}
}

func (m *Metrics) observeCleanup(res *storage.CleanupResult) {
	m.cleanupFiles.Add(float64(res.DeletedCount))
	m.cleanupBytes.Add(float64(res.DeletedBytes))
	m.cleanupFailures.Add(float64(len(res.Errors)))
}

// Package observability groups the Prometheus instruments for the
// conversion service and adapts them to the pipeline's progress stream.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveJobs        prometheus.Gauge
	JobsFinished      *prometheus.CounterVec
	ChunksSynthesized prometheus.Counter
	PipelineWarnings  prometheus.Counter
	ChunkLatency      prometheus.Histogram
}

// NewMetrics registers the instruments under namespace on the default
// registry. Call once per process.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of conversions currently running.",
		}),
		JobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Finished conversions by terminal stage.",
		}, []string{"stage"}),
		ChunksSynthesized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_synthesized_total",
			Help:      "Text chunks rendered to audio.",
		}),
		PipelineWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_warnings_total",
			Help:      "Recoverable pipeline faults (synthesis retries, cleaning fallbacks).",
		}),
		ChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_synthesis_seconds",
			Help:      "Wall time per synthesized chunk in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
}

// MetricsHandler exposes the default registry for scraping.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Sink adapts Metrics to the pipeline's progress sink contract so job
// lifecycle counters track the event stream directly.
type Sink struct {
	metrics *Metrics

	started     bool
	lastChunk   int
	lastChunkAt time.Time
}

// NewSink creates a progress sink feeding metrics.
func NewSink(metrics *Metrics) *Sink {
	return &Sink{metrics: metrics}
}

// OnProgress tracks chunk completions and the running-job gauge.
func (s *Sink) OnProgress(snapshot core.JobSnapshot) {
	if !s.started {
		s.started = true

		s.metrics.ActiveJobs.Inc()
	}

	if snapshot.CurrentChunkIndex > s.lastChunk {
		now := time.Now()
		delta := snapshot.CurrentChunkIndex - s.lastChunk

		s.metrics.ChunksSynthesized.Add(float64(delta))

		if !s.lastChunkAt.IsZero() {
			s.metrics.ChunkLatency.Observe(now.Sub(s.lastChunkAt).Seconds() / float64(delta))
		}

		s.lastChunk = snapshot.CurrentChunkIndex
		s.lastChunkAt = now
	}
}

// OnLog counts recoverable faults; the pipeline logs one warning per retry
// or fallback.
func (s *Sink) OnLog(entry core.LogEntry) {
	if entry.Level == "warn" {
		s.metrics.PipelineWarnings.Inc()
	}
}

// OnTerminal closes out the job counters.
func (s *Sink) OnTerminal(stage core.Stage, _ *core.ErrorInfo) {
	if s.started {
		s.metrics.ActiveJobs.Dec()
	}

	s.metrics.JobsFinished.WithLabelValues(string(stage)).Inc()
	s.started = false
	s.lastChunk = 0
	s.lastChunkAt = time.Time{}
}

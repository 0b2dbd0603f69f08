package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fusion service.
type Metrics struct {
	// REST request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Fusion run metrics
	RunsTotal        prometheus.Counter
	RunDuration      prometheus.Histogram
	RunFailuresTotal *prometheus.CounterVec

	// Per-voxel metrics
	VoxelsFusedTotal    prometheus.Counter
	VoxelsUniqueTotal   prometheus.Counter
	SVDFallbackTotal    prometheus.Counter
	NumericFailureTotal prometheus.Counter

	// Resource metrics
	EstimatedRunBytes prometheus.Gauge
	ActiveWorkers     prometheus.Gauge

	// Per-patch-search diagnostics (spec §4.3/§4.7)
	PatchSearchDuration     prometheus.Histogram
	ManhattanDistanceBucket prometheus.Histogram

	// Job queue metrics (REST control plane)
	JobsQueued   prometheus.Gauge
	JobsAccepted prometheus.Counter
	JobsRejected prometheus.Counter

	// System metrics
	GoroutinesCount prometheus.Gauge
	MemoryUsage     prometheus.Gauge
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics returns the process-wide metrics, creating and registering
// them on the default Prometheus registry on the first call; later calls
// return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { sharedMetrics = newMetrics() })
	return sharedMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlasfuse_requests_total",
				Help: "Total number of REST requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atlasfuse_request_duration_seconds",
				Help:    "REST request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		RequestErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlasfuse_request_errors_total",
				Help: "Total number of REST request errors by method and error type",
			},
			[]string{"method", "error_type"},
		),

		RunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasfuse_fusion_runs_total",
				Help: "Total number of completed fusion runs",
			},
		),
		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "atlasfuse_fusion_run_duration_seconds",
				Help:    "Fusion run wall-clock duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600, 1800},
			},
		),
		RunFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlasfuse_fusion_run_failures_total",
				Help: "Total number of fusion runs that returned a fatal error, by kind",
			},
			[]string{"kind"},
		),

		VoxelsFusedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasfuse_voxels_fused_total",
				Help: "Total number of voxels processed by the main per-voxel loop",
			},
		),
		VoxelsUniqueTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasfuse_voxels_unique_mask_total",
				Help: "Total number of voxels resolved by the UniqueLabelMask shortcut",
			},
		),
		SVDFallbackTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasfuse_svd_fallback_total",
				Help: "Total number of voxels where the weight solve fell back to SVD",
			},
		),
		NumericFailureTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasfuse_numeric_failure_total",
				Help: "Total number of voxels where both Cholesky and SVD solves failed",
			},
		),

		EstimatedRunBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "atlasfuse_estimated_run_bytes",
				Help: "Estimated buffer footprint of the most recently started run",
			},
		),
		ActiveWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "atlasfuse_active_workers",
				Help: "Number of worker goroutines currently processing voxels",
			},
		),

		PatchSearchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "atlasfuse_patch_search_duration_seconds",
				Help:    "Duration of a single atlas patch search within the per-voxel loop",
				Buckets: prometheus.ExponentialBuckets(1e-6, 2, 16),
			},
		),
		ManhattanDistanceBucket: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "atlasfuse_manhattan_distance_bucket",
				Help:    "Manhattan distance of the winning search candidate, diagnostic companion to the Driver's per-run histogram",
				Buckets: prometheus.LinearBuckets(0, 1, 20),
			},
		),

		JobsQueued: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "atlasfuse_jobs_queued",
				Help: "Number of fusion jobs currently queued or running",
			},
		),
		JobsAccepted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasfuse_jobs_accepted_total",
				Help: "Total number of fusion jobs accepted by the control plane",
			},
		),
		JobsRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "atlasfuse_jobs_rejected_total",
				Help: "Total number of fusion jobs rejected (queue full or invalid config)",
			},
		),

		GoroutinesCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "atlasfuse_goroutines",
				Help: "Current number of goroutines",
			},
		),
		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "atlasfuse_memory_bytes",
				Help: "Process memory usage in bytes",
			},
		),
	}
}

// RecordRequest records a REST request with duration and status.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRequestError records a REST request error.
func (m *Metrics) RecordRequestError(method, errorType string) {
	m.RequestErrors.WithLabelValues(method, errorType).Inc()
}

// RecordRun records a completed fusion run's duration and per-run counts.
func (m *Metrics) RecordRun(duration time.Duration, voxelsFused, voxelsUnique int64, svdFallback int64) {
	m.RunsTotal.Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.VoxelsFusedTotal.Add(float64(voxelsFused))
	m.VoxelsUniqueTotal.Add(float64(voxelsUnique))
	m.SVDFallbackTotal.Add(float64(svdFallback))
}

// RecordPatchSearchDuration records how long a single atlas patch search
// took within the per-voxel loop.
func (m *Metrics) RecordPatchSearchDuration(duration time.Duration) {
	m.PatchSearchDuration.Observe(duration.Seconds())
}

// RecordManhattanHistogram replays a run's merged Manhattan-distance
// histogram (indexed by distance, valued by voxel count) into the
// corresponding Prometheus histogram.
func (m *Metrics) RecordManhattanHistogram(histogram []uint64) {
	for distance, count := range histogram {
		for i := uint64(0); i < count; i++ {
			m.ManhattanDistanceBucket.Observe(float64(distance))
		}
	}
}

// RecordRunFailure records a fatal fusion run failure by error kind.
func (m *Metrics) RecordRunFailure(kind string) {
	m.RunFailuresTotal.WithLabelValues(kind).Inc()
	if kind == "NumericFailure" {
		m.NumericFailureTotal.Inc()
	}
}

// RecordJobAccepted records a job accepted by the control plane.
func (m *Metrics) RecordJobAccepted() {
	m.JobsAccepted.Inc()
	m.JobsQueued.Inc()
}

// RecordJobFinished decrements the queue gauge once a job leaves the queue,
// regardless of outcome.
func (m *Metrics) RecordJobFinished() {
	m.JobsQueued.Dec()
}

// RecordJobRejected records a job rejected before entering the queue.
func (m *Metrics) RecordJobRejected() {
	m.JobsRejected.Inc()
}

// UpdateGoroutineCount updates the goroutine count gauge.
func (m *Metrics) UpdateGoroutineCount(count int) {
	m.GoroutinesCount.Set(float64(count))
}

// UpdateMemoryUsage updates the memory usage gauge.
func (m *Metrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateEstimatedRunBytes records the most recent run's pre-check estimate.
func (m *Metrics) UpdateEstimatedRunBytes(bytes int64) {
	m.EstimatedRunBytes.Set(float64(bytes))
}

// Package metrics holds the engine's Prometheus collectors. They are
// registered on the default registry and served by the control server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FrameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "demoplay_frame_duration_seconds",
		Help:    "Render loop frame duration in seconds, excluding the framerate sleep.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	FPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "demoplay_fps",
		Help: "Frames per second over the last sampling window.",
	})

	ClockSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "demoplay_clock_seconds",
		Help: "Current virtual time in seconds.",
	})

	Paused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "demoplay_paused",
		Help: "1 while playback is paused.",
	})

	LoadingProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "demoplay_loading_progress_ratio",
		Help: "Warm-up progress between 0 and 1.",
	})

	WorkerPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "demoplay_worker_pending_jobs",
		Help: "Jobs queued or running on the worker pool.",
	})

	WorkerJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demoplay_worker_jobs_total",
			Help: "Worker pool jobs by result.",
		},
		[]string{"result"},
	)

	WorkerJobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "demoplay_worker_job_duration_seconds",
		Help:    "Worker pool job run time in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "demoplay_cache_entries",
			Help: "Resource cache entries by kind.",
		},
		[]string{"kind"},
	)

	EffectTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demoplay_effect_transitions_total",
			Help: "Effect lifecycle transitions.",
		},
		[]string{"transition"},
	)

	GraphicsErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "demoplay_graphics_errors_total",
		Help: "Graphics error states observed after effect transitions.",
	})

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demoplay_http_requests_total",
			Help: "Control server requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demoplay_http_request_duration_seconds",
			Help:    "Control server request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		FrameDuration,
		FPS,
		ClockSeconds,
		Paused,
		LoadingProgress,
		WorkerPending,
		WorkerJobs,
		WorkerJobDuration,
		CacheEntries,
		EffectTransitions,
		GraphicsErrors,
		HTTPRequests,
		HTTPDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

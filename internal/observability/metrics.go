// Package observability holds the process-wide Prometheus metrics,
// grounded on iluha78-FD/internal/observability/metrics.go's
// promauto-registered var block idiom.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScenesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipper",
		Name:      "scenes_completed_total",
		Help:      "Total number of scenes fully processed",
	}, []string{"style"})

	ClipsRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipper",
		Name:      "clips_rendered_total",
		Help:      "Total number of styled clips rendered, by style and outcome",
	}, []string{"style", "outcome"})

	ClipRenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clipper",
		Name:      "clip_render_duration_seconds",
		Help:      "Wall-clock duration of a single style processor's ffmpeg render",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"style"})

	NeuralAnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clipper",
		Name:      "neural_analysis_duration_seconds",
		Help:      "Duration of a cache-miss neural analysis run, by detection tier",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"tier"})

	NeuralCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipper",
		Name:      "neural_cache_hits_total",
		Help:      "Scene analysis cache lookups, by outcome (hit/miss)",
	}, []string{"outcome"})

	RawCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipper",
		Name:      "raw_cache_hits_total",
		Help:      "Raw segment cache lookups, by outcome (local/object_store/extracted)",
	}, []string{"outcome"})

	DownloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clipper",
		Name:      "download_duration_seconds",
		Help:      "Duration of a source video download via yt-dlp",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"outcome"})

	FFmpegSemaphoreWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "clipper",
		Name:      "ffmpeg_semaphore_wait_seconds",
		Help:      "Time a style render spent waiting to acquire the ffmpeg concurrency semaphore",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipper",
		Name:      "active_jobs",
		Help:      "Number of production jobs currently being processed",
	})

	StorageBytesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "clipper",
		Name:      "storage_bytes_total",
		Help:      "Last-known per-user total storage accounting bytes, by counter",
	}, []string{"user_id", "counter"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipper",
		Name:      "ws_connections",
		Help:      "Number of active internal progress-fanout WebSocket connections",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipper",
		Name:      "jobs_queue_depth",
		Help:      "Number of production jobs enqueued and not yet acknowledged by a worker",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "moviestream"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveEngines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_engines",
		Help:      "Number of torrents currently held by the engine.",
	})

	EngineStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_starts_total",
		Help:      "Total number of torrent acquisitions started.",
	})

	SessionFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_failures_total",
		Help:      "Total number of failed sessions by reason.",
	}, []string{"reason"})

	FinalizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "finalize_total",
		Help:      "Total number of finalizations by outcome and mode.",
	}, []string{"outcome", "mode"})

	TranscodeActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transcode_active_jobs",
		Help:      "Number of currently running FFmpeg processes.",
	})

	TranscodeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcode_failures_total",
		Help:      "Total number of FFmpeg failures by target.",
	}, []string{"target"})

	TranscodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcode_duration_seconds",
		Help:      "Duration of FFmpeg jobs in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 900, 1800},
	}, []string{"target"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total stream requests served from the available cache.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total stream requests that fell through to the engine.",
	})

	CacheRepairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_repairs_total",
		Help:      "Total cache entries dropped because store and disk disagreed.",
	})

	EvictedEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evicted_entries_total",
		Help:      "Total stale cache artifacts removed.",
	})

	EvictionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eviction_failures_total",
		Help:      "Total stale cache artifacts that could not be removed.",
	})

	ResolverCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolver_cache_hits_total",
		Help:      "Total .torrent URL resolutions answered from cache.",
	})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_clients",
		Help:      "Number of connected websocket clients.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveEngines,
		EngineStartsTotal,
		SessionFailuresTotal,
		FinalizeTotal,
		TranscodeActiveJobs,
		TranscodeFailuresTotal,
		TranscodeDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheRepairsTotal,
		EvictedEntriesTotal,
		EvictionFailuresTotal,
		ResolverCacheHitsTotal,
		WSClients,
	)
}

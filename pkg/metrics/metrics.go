package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DownloadsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilekit_downloads_started_total",
		Help: "Total number of tile downloads started",
	})

	DownloadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilekit_downloads_completed_total",
		Help: "Total number of tile downloads completed successfully",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilekit_downloads_failed_total",
		Help: "Total number of tile downloads that terminated in a failed state",
	})

	DownloadsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilekit_downloads_cancelled_total",
		Help: "Total number of tile downloads cancelled before completion",
	})

	DownloadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilekit_downloads_in_flight",
		Help: "Number of tile downloads currently in flight",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilekit_cache_hits_total",
		Help: "Total number of disk cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilekit_cache_misses_total",
		Help: "Total number of disk cache misses",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilekit_cache_evictions_total",
		Help: "Total number of cache entries evicted under the size budget",
	})

	CacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilekit_cache_size_bytes",
		Help: "Current aggregate size of the disk cache in bytes",
	})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilekit_fetch_latency_seconds",
		Help:    "Latency of upstream tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Package metrics exposes Prometheus collectors for the plugin search
// orchestrator, the download engine, and the optional result cache,
// registered once at process start and scraped over /metrics by
// cmd/animegrab's diagnostics server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animegrab",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "animegrab",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	PluginRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animegrab",
		Name:      "plugin_requests_total",
		Help:      "Total search requests sent to plugins by plugin name and result status.",
	}, []string{"plugin", "status"})

	PluginRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "animegrab",
		Name:      "plugin_request_duration_seconds",
		Help:      "Plugin search request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"plugin"})

	PluginAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "animegrab",
		Name:      "plugin_available",
		Help:      "Whether a plugin is available (1) or blocked by circuit breaker (0).",
	}, []string{"plugin"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "animegrab",
		Name:      "cache_hits_total",
		Help:      "Total number of search result cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "animegrab",
		Name:      "cache_misses_total",
		Help:      "Total number of search result cache misses.",
	})

	BrowserResolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "animegrab",
		Name:      "browser_resolve_duration_seconds",
		Help:      "Headless-browser stream resolution duration in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
	})

	DownloadsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "animegrab",
		Name:      "downloads_active",
		Help:      "Number of downloads currently in the DOWNLOADING state.",
	})

	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animegrab",
		Name:      "downloads_total",
		Help:      "Total downloads that reached a terminal status, by status and delivery path.",
	}, []string{"status", "path"})

	DownloadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animegrab",
		Name:      "download_bytes_total",
		Help:      "Total bytes written to disk, by delivery path (direct/accelerator/hls).",
	}, []string{"path"})

	HLSSegmentFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "animegrab",
		Name:      "hls_segment_failures_total",
		Help:      "Total HLS segments that failed after exhausting fragment retries.",
	})
)

// Register attaches every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PluginRequestsTotal,
		PluginRequestDuration,
		PluginAvailable,
		CacheHitsTotal,
		CacheMissesTotal,
		BrowserResolveDuration,
		DownloadsActive,
		DownloadsTotal,
		DownloadBytesTotal,
		HLSSegmentFailuresTotal,
	)
}

// RecordPluginSearch records one plugin search's outcome and latency, and
// reflects the outcome in the plugin's availability gauge.
func RecordPluginSearch(plugin string, ok bool, elapsed time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	PluginRequestsTotal.WithLabelValues(plugin, status).Inc()
	PluginRequestDuration.WithLabelValues(plugin).Observe(elapsed.Seconds())
	availability := 1.0
	if !ok {
		availability = 0.0
	}
	PluginAvailable.WithLabelValues(plugin).Set(availability)
}

// RecordDownload records a terminal download outcome and the bytes written
// along its delivery path.
func RecordDownload(status, path string, bytes int64) {
	DownloadsTotal.WithLabelValues(status, path).Inc()
	if bytes > 0 {
		DownloadBytesTotal.WithLabelValues(path).Add(float64(bytes))
	}
}

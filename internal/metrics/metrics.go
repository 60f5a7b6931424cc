// Package metrics provides Prometheus metrics for remote calls, caches and
// sync runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Remote API metrics
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bynder2_remote_requests_total",
			Help: "Total number of Bynder API requests",
		},
		[]string{"operation", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bynder2_remote_request_duration_seconds",
			Help:    "Bynder API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	listingsTruncatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bynder2_listings_truncated_total",
			Help: "Asset listings that ended before the last page",
		},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bynder2_cache_lookups_total",
			Help: "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	cacheBackendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bynder2_cache_backend_errors_total",
			Help: "Cache backend failures that were degraded to misses",
		},
		[]string{"backend", "operation"},
	)

	// Sync metrics
	syncAssetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bynder2_sync_assets_total",
			Help: "Assets reconciled by action",
		},
		[]string{"storage", "action"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bynder2_sync_duration_seconds",
			Help:    "Duration of one storage reconciliation",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"storage"},
	)

	syncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bynder2_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last complete reconciliation",
		},
		[]string{"storage"},
	)

	// Gateway metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bynder2_http_requests_total",
			Help: "Total number of gateway HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRemoteRequest records one API call. status is the HTTP status code,
// 0 for transport failures.
func RecordRemoteRequest(operation string, status int, d time.Duration) {
	remoteRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	remoteRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordTruncatedListing counts a listing that stopped early.
func RecordTruncatedListing() {
	listingsTruncatedTotal.Inc()
}

// RecordCacheLookup records a hit or miss for the named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordCacheBackendError records a degraded backend operation.
func RecordCacheBackendError(backend, operation string) {
	cacheBackendErrorsTotal.WithLabelValues(backend, operation).Inc()
}

// RecordSyncAction adds n reconciled assets for one action.
func RecordSyncAction(storageUID int, action string, n int) {
	if n <= 0 {
		return
	}
	syncAssetsTotal.WithLabelValues(strconv.Itoa(storageUID), action).Add(float64(n))
}

// RecordSyncRun records the duration of a storage run and, when the run
// enumerated the whole library, its completion time.
func RecordSyncRun(storageUID int, d time.Duration, complete bool, end time.Time) {
	label := strconv.Itoa(storageUID)
	syncDuration.WithLabelValues(label).Observe(d.Seconds())
	if complete {
		syncLastSuccess.WithLabelValues(label).Set(float64(end.Unix()))
	}
}

// RecordHTTPRequest records one gateway request.
func RecordHTTPRequest(method, path string, status int) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

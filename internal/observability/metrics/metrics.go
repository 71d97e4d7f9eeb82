// Package metrics provides Prometheus instrumentation for verifactory.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Verification metrics
	verificationStoreTotal *prometheus.CounterVec
	repositoryWriteSeconds *prometheus.HistogramVec

	// Relational store metrics
	relationalStoreTotal *prometheus.CounterVec

	// Compiler provisioning metrics
	compilerDownloadTotal *prometheus.CounterVec
	compilerCacheHitTotal *prometheus.CounterVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	verificationStoreTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_store_total",
			Help: "Total number of verification results stored",
		},
		[]string{"chain", "quality"},
	)

	repositoryWriteSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_write_duration_seconds",
			Help:    "Filesystem repository write latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"quality"},
	)

	relationalStoreTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relational_store_total",
			Help: "Total number of relational store writes",
		},
		[]string{"status"},
	)

	compilerDownloadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compiler_download_total",
			Help: "Total number of compiler artifact downloads",
		},
		[]string{"compiler", "status"},
	)

	compilerCacheHitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compiler_cache_hit_total",
			Help: "Total number of compiler cache hits",
		},
		[]string{"compiler"},
	)

	// Note: Go runtime metrics (goroutines, memory, GC) are automatically
	// collected by prometheus/client_golang - no custom collector needed
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}

package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgergate_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_ledger_operations_total",
		Help: "Ledger data-plane operations by operation and outcome.",
	}, []string{"op", "outcome"})

	pendingRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgergate_pending_retries_total",
		Help: "Extra reads issued for entries reported as Loading.",
	})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_entry_cache_lookups_total",
		Help: "Committed-entry cache lookups by result.",
	}, []string{"result"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgergate_health_checks_total",
		Help: "Total ledger reachability probes by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records a ledger reachability probe result.
func RecordHealthCheck(success bool) {
	if success {
		healthChecksTotal.WithLabelValues("success").Inc()
	} else {
		healthChecksTotal.WithLabelValues("failure").Inc()
	}
}

// ServiceMetrics feeds EntryService events into Prometheus.
// It satisfies service.Recorder.
type ServiceMetrics struct{}

// Operation counts one ledger operation.
func (ServiceMetrics) Operation(op, outcome string) {
	ledgerOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// PendingRetry counts one extra read of a Loading entry.
func (ServiceMetrics) PendingRetry() { pendingRetriesTotal.Inc() }

// CacheLookup counts one entry cache lookup.
func (ServiceMetrics) CacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		cacheLookupsTotal.WithLabelValues("miss").Inc()
	}
}

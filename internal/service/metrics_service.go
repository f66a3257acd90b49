package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight view over the collected metrics.
type MetricsSnapshot struct {
	CacheHitRatio       float64 `json:"cacheHitRatio"`
	AvgRequestMs        float64 `json:"avgRequestMs"`
	AvgDBQueryMs        float64 `json:"avgDbQueryMs"`
	RequestCount        uint64  `json:"requestCount"`
	Transitions         uint64  `json:"transitions"`
	NotificationFailure uint64  `json:"notificationFailures"`
	PartialCommits      uint64  `json:"partialCommits"`
	Goroutines          int     `json:"goroutines"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry             *prometheus.Registry
	handler              http.Handler
	requestDuration      *prometheus.HistogramVec
	requestTotal         *prometheus.CounterVec
	cacheLatency         prometheus.Observer
	cacheWrite           prometheus.Observer
	cacheHitRatio        prometheus.Gauge
	cacheHits            prometheus.Counter
	cacheMisses          prometheus.Counter
	dbQueryDuration      *prometheus.HistogramVec
	transitions          *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	partialCommits       prometheus.Counter
	outboxDepth          prometheus.Gauge
	changeLogPublishErrs prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	transitionCount      uint64
	notifyFailureCount   uint64
	partialCommitCount   uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_transitions_total",
		Help: "Committed review workflow transitions",
	}, []string{"form", "action"})

	notificationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Decision notifications that could not be delivered",
	}, []string{"reason"})

	partialCommits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_partial_commits_total",
		Help: "Form writes whose change-log entry was staged for reconciliation",
	})

	outboxDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audit_outbox_depth",
		Help: "Change-log entries waiting in the reconciliation outbox",
	})

	changeLogPublishErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "changelog_stream_errors_total",
		Help: "Change-log entries that failed to publish to the stream",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		dbQueryDuration, transitions, notificationFailures, partialCommits, outboxDepth, changeLogPublishErrs, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:             registry,
		handler:              handler,
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHitRatio:        cacheHitRatio,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		dbQueryDuration:      dbQueryDuration,
		transitions:          transitions,
		notificationFailures: notificationFailures,
		partialCommits:       partialCommits,
		outboxDepth:          outboxDepth,
		changeLogPublishErrs: changeLogPublishErrs,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordTransition counts a committed workflow action.
func (m *MetricsService) RecordTransition(form, action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(form, action).Inc()
	atomic.AddUint64(&m.transitionCount, 1)
}

// RecordNotificationFailure counts an undeliverable notification.
func (m *MetricsService) RecordNotificationFailure(reason string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(reason).Inc()
	atomic.AddUint64(&m.notifyFailureCount, 1)
}

// RecordPartialCommit counts a write whose audit entry was staged.
func (m *MetricsService) RecordPartialCommit() {
	if m == nil {
		return
	}
	m.partialCommits.Inc()
	atomic.AddUint64(&m.partialCommitCount, 1)
}

// SetOutboxDepth reports the pending reconciliation backlog.
func (m *MetricsService) SetOutboxDepth(depth int64) {
	if m == nil {
		return
	}
	m.outboxDepth.Set(float64(depth))
}

// RecordChangeLogPublishError counts a failed stream publish.
func (m *MetricsService) RecordChangeLogPublishError() {
	if m == nil {
		return
	}
	m.changeLogPublishErrs.Inc()
}

// Snapshot returns aggregated metrics for the summary endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		CacheHitRatio:       cacheRatio,
		AvgRequestMs:        avgRequestMs,
		AvgDBQueryMs:        avgDBMs,
		RequestCount:        requests,
		Transitions:         atomic.LoadUint64(&m.transitionCount),
		NotificationFailure: atomic.LoadUint64(&m.notifyFailureCount),
		PartialCommits:      atomic.LoadUint64(&m.partialCommitCount),
		Goroutines:          runtime.NumGoroutine(),
	}
}

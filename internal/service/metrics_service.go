package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
)

// Outcome labels for coordination counters.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHitRatio    prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	storeCalls       *prometheus.HistogramVec
	claims           *prometheus.CounterVec
	deposits         *prometheus.CounterVec
	partialCommits   *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	pendingNotifyFn  atomic.Value
	cacheHitCount    uint64
	cacheMissCount   uint64
	requestCount     uint64
	requestDurTotal  uint64
	storeCallCount   uint64
	storeCallDurSum  uint64
	claimOK          uint64
	claimRejected    uint64
	depositOK        uint64
	partialCommitCnt uint64
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
		Help:    "Latency for cache lookups",
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

	storeCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sheet_store_call_seconds",
		Help:    "Duration of tabular store calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"table", "op", "outcome"})

	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memo_claims_total",
		Help: "Topic claim attempts by outcome code",
	}, []string{"strategy", "outcome"})

	deposits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memo_deposits_total",
		Help: "Deposit attempts by outcome code",
	}, []string{"outcome"})

	partialCommits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memo_partial_commits_total",
		Help: "Interrupted cross-ledger write sequences by failed step",
	}, []string{"operation", "step"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memo_notifications_total",
		Help: "Collaborator deliveries by channel and outcome",
	}, []string{"channel", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	m := &MetricsService{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		storeCalls:      storeCalls,
		claims:          claims,
		deposits:        deposits,
		partialCommits:  partialCommits,
		notifications:   notifications,
	}

	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "memo_notifications_pending",
		Help: "Notification jobs queued or in flight",
	}, func() float64 {
		return float64(m.pendingNotifications())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits,
		cacheMisses, storeCalls, claims, deposits, partialCommits, notifications, goroutines, pending)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
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
	atomic.AddUint64(&m.requestDurTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveStoreCall records the latency of one tabular store call.
func (m *MetricsService) ObserveStoreCall(table, op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	m.storeCalls.WithLabelValues(table, op, outcome).Observe(duration.Seconds())
	atomic.AddUint64(&m.storeCallCount, 1)
	atomic.AddUint64(&m.storeCallDurSum, uint64(duration.Nanoseconds()))
}

// RecordClaim counts a claim attempt labelled with its error code.
func (m *MetricsService) RecordClaim(strategy string, err error) {
	if m == nil {
		return
	}
	if err == nil {
		atomic.AddUint64(&m.claimOK, 1)
	} else {
		atomic.AddUint64(&m.claimRejected, 1)
	}
	m.claims.WithLabelValues(strategy, outcomeLabel(err)).Inc()
}

// RecordDeposit counts a deposit attempt labelled with its error code.
func (m *MetricsService) RecordDeposit(err error) {
	if m == nil {
		return
	}
	if err == nil {
		atomic.AddUint64(&m.depositOK, 1)
	}
	m.deposits.WithLabelValues(outcomeLabel(err)).Inc()
}

// RecordPartialCommit counts an interrupted write sequence.
func (m *MetricsService) RecordPartialCommit(operation, step string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.partialCommitCnt, 1)
	m.partialCommits.WithLabelValues(operation, step).Inc()
}

// RecordNotification counts a collaborator delivery.
func (m *MetricsService) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

// TrackPendingNotifications registers the source for the pending notification gauge.
func (m *MetricsService) TrackPendingNotifications(fn func() int64) {
	if m == nil || fn == nil {
		return
	}
	m.pendingNotifyFn.Store(fn)
}

func (m *MetricsService) pendingNotifications() int64 {
	if fn, ok := m.pendingNotifyFn.Load().(func() int64); ok {
		return fn()
	}
	return 0
}

func outcomeLabel(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	if code := appErrors.Code(err); code != "" {
		return code
	}
	return outcomeError
}

// Snapshot returns aggregated metrics suitable for the admin system endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurTotal)
	storeCount := atomic.LoadUint64(&m.storeCallCount)
	storeDuration := atomic.LoadUint64(&m.storeCallDurSum)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}
	var avgStoreMs float64
	if storeCount > 0 {
		avgStoreMs = float64(storeDuration) / float64(storeCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:              cacheRatio,
		CacheHits:                  hits,
		CacheMisses:                misses,
		RequestsTotal:              requests,
		AverageRequestDurationMs:   avgRequestMs,
		StoreCallCount:             storeCount,
		AverageStoreCallDurationMs: avgStoreMs,
		ClaimsSucceeded:            atomic.LoadUint64(&m.claimOK),
		ClaimsRejected:             atomic.LoadUint64(&m.claimRejected),
		DepositsSucceeded:          atomic.LoadUint64(&m.depositOK),
		PartialCommits:             atomic.LoadUint64(&m.partialCommitCnt),
		PendingNotifications:       m.pendingNotifications(),
		Goroutines:                 runtime.NumGoroutine(),
		GeneratedAt:                time.Now().UTC(),
	}
}

package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "lms"

// Enrollment outcomes recorded by RecordEnrollment.
const (
	EnrollResultEnrolled   = "enrolled"
	EnrollResultWaitlisted = "waitlisted"
	EnrollResultDuplicate  = "duplicate"
	EnrollResultFull       = "full"
	EnrollResultClosed     = "closed"
	EnrollResultBulk       = "bulk"
)

// MetricsService owns a private Prometheus registry. All methods are safe on a nil receiver.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec

	cacheLookups  *prometheus.CounterVec
	cacheLatency  prometheus.Histogram
	cacheWrites   prometheus.Histogram
	cacheHitRatio prometheus.Gauge

	enrollments      *prometheus.CounterVec
	fanoutRecipients prometheus.Histogram
	fanoutTruncated  prometheus.Counter
	deliveries       *prometheus.CounterVec
	outboxPending    prometheus.Gauge
	outboxFailed     prometheus.Counter

	hits     atomic.Uint64
	misses   atomic.Uint64
	requests atomic.Uint64
}

// MetricsSnapshot is the summary embedded in the health response.
type MetricsSnapshot struct {
	RequestsTotal uint64    `json:"requests_total"`
	CacheHitRatio float64   `json:"cache_hit_ratio"`
	Goroutines    int       `json:"goroutines"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// NewMetricsService registers the service collectors plus the Go runtime and process collectors.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry: prometheus.NewRegistry(),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "http",
			Name:    "request_duration_seconds",
			Help:    "HTTP request latency by route template",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "http",
			Name: "requests_total",
			Help: "HTTP requests by route template and status",
		}, []string{"method", "path", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "cache",
			Name: "lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "cache",
			Name:    "lookup_seconds",
			Help:    "Cache lookup latency",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		cacheWrites: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "cache",
			Name:    "write_seconds",
			Help:    "Cache write latency",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "cache",
			Name: "hit_ratio",
			Help: "Cache hits over lookups since start",
		}),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "enrollments_total",
			Help:      "Enrollment attempts by outcome",
		}, []string{"result"}),
		fanoutRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "notifications",
			Name:    "fanout_recipients",
			Help:    "In-app recipients per dispatched event",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		fanoutTruncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "notifications",
			Name: "fanout_truncated_total",
			Help: "Events whose subscriber list exceeded the recipient cap",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "notifications",
			Name: "deliveries_total",
			Help: "Outbound deliveries by channel and status",
		}, []string{"channel", "status"}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "outbox",
			Name: "pending",
			Help: "Outbox events waiting for dispatch",
		}),
		outboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "outbox",
			Name: "failed_total",
			Help: "Outbox events parked after exhausting their attempts",
		}),
	}

	m.registry.MustRegister(
		m.httpDuration, m.httpRequests,
		m.cacheLookups, m.cacheLatency, m.cacheWrites, m.cacheHitRatio,
		m.enrollments, m.fanoutRecipients, m.fanoutTruncated, m.deliveries,
		m.outboxPending, m.outboxFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// WatchQueue exports the buffered depth of a worker queue as lms_jobs_queue_depth{queue}.
// Register each queue name once.
func (m *MetricsService) WatchQueue(name string, depth func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "jobs",
		Name:        "queue_depth",
		Help:        "Jobs buffered in a worker queue",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 { return float64(depth()) }))
}

// WatchScheduler exports the number of registered cron tasks as lms_jobs_scheduled_tasks.
func (m *MetricsService) WatchScheduler(tasks func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "jobs",
		Name:      "scheduled_tasks",
		Help:      "Cron tasks registered with the scheduler",
	}, func() float64 { return float64(tasks()) }))
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.httpRequests.WithLabelValues(method, path, code).Inc()
	m.requests.Add(1)
}

// RecordCacheOperation records a cache lookup and refreshes the hit ratio gauge.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheHitRatio.Set(m.hitRatio())
}

// ObserveCacheWrite records the latency of one cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrites.Observe(duration.Seconds())
}

// RecordEnrollment counts n enrollment outcomes.
func (m *MetricsService) RecordEnrollment(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.enrollments.WithLabelValues(result).Add(float64(n))
}

// ObserveFanout records the in-app audience size of one event.
func (m *MetricsService) ObserveFanout(recipients int, truncated bool) {
	if m == nil {
		return
	}
	m.fanoutRecipients.Observe(float64(recipients))
	if truncated {
		m.fanoutTruncated.Inc()
	}
}

// RecordDelivery counts one outbound delivery attempt.
func (m *MetricsService) RecordDelivery(channel, status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, status).Inc()
}

// SetOutboxPending publishes the current outbox backlog.
func (m *MetricsService) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(n))
}

// RecordOutboxFailure counts an event parked as FAILED.
func (m *MetricsService) RecordOutboxFailure() {
	if m == nil {
		return
	}
	m.outboxFailed.Inc()
}

func (m *MetricsService) hitRatio() float64 {
	hits, misses := m.hits.Load(), m.misses.Load()
	if total := hits + misses; total > 0 {
		return float64(hits) / float64(total)
	}
	return 0
}

// Snapshot summarises request and cache activity since start.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		RequestsTotal: m.requests.Load(),
		CacheHitRatio: m.hitRatio(),
		Goroutines:    runtime.NumGoroutine(),
		GeneratedAt:   time.Now().UTC(),
	}
}

package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the portal.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	enrollmentResolved *prometheus.CounterVec
	mailSent           prometheus.Counter
	mailFailed         prometheus.Counter
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

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	enrollmentResolved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_requests_resolved_total",
		Help: "Enrollment requests resolved, by decision",
	}, []string{"decision"})

	mailSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_mail_sent_total",
		Help: "Outbound emails delivered successfully",
	})

	mailFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_mail_failed_total",
		Help: "Outbound emails that failed delivery",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, enrollmentResolved, mailSent, mailFailed, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		enrollmentResolved: enrollmentResolved,
		mailSent:           mailSent,
		mailFailed:         mailFailed,
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

// ObserveHTTPRequest records request timing and counts.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordEnrollmentResolved counts a resolved enrollment request.
func (m *MetricsService) RecordEnrollmentResolved(decision string) {
	if m == nil {
		return
	}
	m.enrollmentResolved.WithLabelValues(decision).Inc()
}

// RegisterEnrollmentBacklog exposes the number of enrollment requests
// awaiting review as a gauge. The count callback runs on every scrape.
func (m *MetricsService) RegisterEnrollmentBacklog(count func() float64) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "enrollment_requests_pending",
		Help: "Enrollment requests awaiting review",
	}, count))
}

// RecordMailDelivery counts an outbound email attempt.
func (m *MetricsService) RecordMailDelivery(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.mailSent.Inc()
	} else {
		m.mailFailed.Inc()
	}
}

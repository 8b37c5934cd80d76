package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalmesh/gateway/internal/models"
)

// breakerStateValue encodes a breaker state as a gauge value so dashboards
// can alert on open breakers without string matching.
func breakerStateValue(state models.BreakerState) float64 {
	switch state {
	case models.BreakerClosed:
		return 0
	case models.BreakerHalfOpen:
		return 1
	case models.BreakerOpen:
		return 2
	}
	return -1
}

// MetricsService encapsulates Prometheus instrumentation for the gateway:
// inbound HTTP traffic, upstream dispatch outcomes, and breaker states.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamTotal    *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	breakerRejects   *prometheus.CounterVec
	rateLimitRejects *prometheus.CounterVec
	classifyTotal    *prometheus.CounterVec
}

// NewMetricsService registers the gateway's Prometheus collectors on a
// private registry.
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

	upstreamDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Duration of proxied upstream calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "version", "status"})

	upstreamTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total number of proxied upstream calls",
	}, []string{"service", "version", "status"})

	breakerState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breaker_state",
		Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
	}, []string{"service"})

	breakerRejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_rejections_total",
		Help: "Requests rejected because the service breaker was open",
	}, []string{"service"})

	rateLimitRejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests rejected because the service request window was full",
	}, []string{"service"})

	classifyTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_classifications_total",
		Help: "Content-routed requests per classified domain",
	}, []string{"domain"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, upstreamDuration, upstreamTotal, breakerState, breakerRejects, rateLimitRejects, classifyTotal, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		upstreamDuration: upstreamDuration,
		upstreamTotal:    upstreamTotal,
		breakerState:     breakerState,
		breakerRejects:   breakerRejects,
		rateLimitRejects: rateLimitRejects,
		classifyTotal:    classifyTotal,
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

// ObserveHTTPRequest records one inbound request against the gateway itself.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveUpstream records the outcome of one proxied backend call. version is
// empty for services without an active canary split.
func (m *MetricsService) ObserveUpstream(service, version string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.upstreamDuration.WithLabelValues(service, version, labelStatus).Observe(duration.Seconds())
	m.upstreamTotal.WithLabelValues(service, version, labelStatus).Inc()
}

// SetBreakerState publishes a breaker state transition.
func (m *MetricsService) SetBreakerState(service string, state models.BreakerState) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(breakerStateValue(state))
}

// CountBreakerRejection counts a request turned away by an open breaker.
func (m *MetricsService) CountBreakerRejection(service string) {
	if m == nil {
		return
	}
	m.breakerRejects.WithLabelValues(service).Inc()
}

// CountRateLimitRejection counts a request turned away by a full window.
func (m *MetricsService) CountRateLimitRejection(service string) {
	if m == nil {
		return
	}
	m.rateLimitRejects.WithLabelValues(service).Inc()
}

// CountClassification counts one content-routed request per resolved domain.
func (m *MetricsService) CountClassification(domain string) {
	if m == nil {
		return
	}
	m.classifyTotal.WithLabelValues(domain).Inc()
}

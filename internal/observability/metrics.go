package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	stageDuration         *prometheus.HistogramVec
	riskLevels            *prometheus.CounterVec
	degradedSignals       *prometheus.CounterVec
	alertOutcomes         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetybuddy_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "safetybuddy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetybuddy_upstream_requests_total",
				Help: "Total requests to external services.",
			},
			[]string{"service", "endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "safetybuddy_upstream_request_duration_seconds",
				Help:    "External service request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "endpoint", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "safetybuddy_processing_stage_duration_seconds",
				Help:    "Duration of each audio processing stage in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"stage"},
		),
		riskLevels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetybuddy_risk_assessments_total",
				Help: "Risk assessments produced, by level.",
			},
			[]string{"level"},
		),
		degradedSignals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetybuddy_degraded_signals_total",
				Help: "Requests that completed without a signal, by signal.",
			},
			[]string{"signal"},
		),
		alertOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safetybuddy_alert_outcomes_total",
				Help: "Alert delivery attempts, by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.stageDuration,
		m.riskLevels,
		m.degradedSignals,
		m.alertOutcomes,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(service, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(service, endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(service, endpoint, statusLabel).Observe(duration.Seconds())
}

// UpstreamObserver binds service so the result fits the clients' observer
// callbacks.
func (m *Metrics) UpstreamObserver(service string) func(endpoint string, status int, duration time.Duration) {
	return func(endpoint string, status int, duration time.Duration) {
		m.ObserveUpstream(service, endpoint, status, duration)
	}
}

func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (m *Metrics) ObserveRiskLevel(level string) {
	if m == nil {
		return
	}
	m.riskLevels.WithLabelValues(level).Inc()
}

func (m *Metrics) ObserveDegradedSignal(signal string) {
	if m == nil {
		return
	}
	m.degradedSignals.WithLabelValues(signal).Inc()
}

func (m *Metrics) ObserveAlertOutcome(channel, outcome string) {
	if m == nil {
		return
	}
	m.alertOutcomes.WithLabelValues(channel, outcome).Inc()
}

// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics holds Prometheus metrics for the request pipeline.
type GatewayMetrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	cacheHitsTotal     *prometheus.CounterVec
	rateLimitedTotal   *prometheus.CounterVec
	breakerRejections  *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	webhookDeliveries  *prometheus.CounterVec
	webhookQueueDepth  prometheus.Gauge
}

var (
	instance *GatewayMetrics
	once     sync.Once
)

// Get returns the singleton gateway metrics instance.
func Get() *GatewayMetrics {
	once.Do(func() {
		instance = newGatewayMetrics()
	})
	return instance
}

func newGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "pipeline",
				Name:      "requests_total",
				Help:      "Total number of requests handled by the pipeline",
			},
			[]string{"endpoint", "method", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "pipeline",
				Name:      "request_duration_seconds",
				Help:      "Request latency through the pipeline",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),
		cacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "pipeline",
				Name:      "cache_hits_total",
				Help:      "Responses served from the response cache",
			},
			[]string{"endpoint"},
		),
		rateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "pipeline",
				Name:      "rate_limited_total",
				Help:      "Requests denied by the rate limiter",
			},
			[]string{"endpoint"},
		),
		breakerRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "circuitbreaker",
				Name:      "rejections_total",
				Help:      "Requests rejected while the circuit was open",
			},
			[]string{"endpoint"},
		),
		breakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "circuitbreaker",
				Name:      "transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"endpoint", "from", "to"},
		),
		webhookDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "webhook",
				Name:      "deliveries_total",
				Help:      "Webhook delivery attempts by outcome",
			},
			[]string{"event", "outcome"},
		),
		webhookQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "webhook",
				Name:      "queue_depth",
				Help:      "Pending webhook deliveries in the queue",
			},
		),
	}
}

// MustRegister registers all collectors with the given registry. promauto
// registers with the default global registry; the gateway serves /metrics
// from its own registry, so this bridges the two.
func (m *GatewayMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.cacheHitsTotal,
		m.rateLimitedTotal,
		m.breakerRejections,
		m.breakerTransitions,
		m.webhookDeliveries,
		m.webhookQueueDepth,
	)
}

// RecordRequest records the outcome of one pipeline request. Called exactly
// once per request, including requests denied before reaching the upstream.
func (m *GatewayMetrics) RecordRequest(
	endpoint, method string,
	status int,
	latency time.Duration,
	cacheHit, rateLimited bool,
) {
	m.requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(endpoint, method).Observe(latency.Seconds())
	if cacheHit {
		m.cacheHitsTotal.WithLabelValues(endpoint).Inc()
	}
	if rateLimited {
		m.rateLimitedTotal.WithLabelValues(endpoint).Inc()
	}
}

// RecordBreakerRejection records a request rejected by an open circuit.
func (m *GatewayMetrics) RecordBreakerRejection(endpoint string) {
	m.breakerRejections.WithLabelValues(endpoint).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *GatewayMetrics) RecordBreakerTransition(endpoint, from, to string) {
	m.breakerTransitions.WithLabelValues(endpoint, from, to).Inc()
}

// RecordWebhookDelivery records one webhook delivery attempt outcome.
func (m *GatewayMetrics) RecordWebhookDelivery(event, outcome string) {
	m.webhookDeliveries.WithLabelValues(event, outcome).Inc()
}

// SetWebhookQueueDepth updates the pending-delivery gauge.
func (m *GatewayMetrics) SetWebhookQueueDepth(depth int) {
	m.webhookQueueDepth.Set(float64(depth))
}

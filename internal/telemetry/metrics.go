package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CarrierCalls       *prometheus.CounterVec
	CarrierDuration    *prometheus.HistogramVec
	CarrierErrors      *prometheus.CounterVec
	RoutingDecisions   *prometheus.CounterVec
	FallbackQuotes     *prometheus.CounterVec
	RetryJobs          *prometheus.CounterVec
	TrackingEvents     *prometheus.CounterVec
	HTTPRequestsServed *prometheus.CounterVec
}

// NewMetrics creates metrics and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CarrierCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprouter_carrier_calls_total",
				Help: "Total number of carrier calls by action, carrier, and outcome",
			},
			[]string{"action", "carrier", "outcome"},
		),
		CarrierDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shiprouter_carrier_call_duration_seconds",
				Help:    "Carrier call duration in seconds by action and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action", "carrier"},
		),
		CarrierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprouter_carrier_errors_total",
				Help: "Total classified carrier errors by carrier and error class",
			},
			[]string{"carrier", "class"},
		),
		RoutingDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprouter_routing_decisions_total",
				Help: "Total routing decisions by chosen carrier and rule",
			},
			[]string{"carrier", "rule"},
		),
		FallbackQuotes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprouter_fallback_quotes_total",
				Help: "Total times fallback quotes replaced live quotes, by carrier",
			},
			[]string{"carrier"},
		),
		RetryJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprouter_retry_jobs_total",
				Help: "Retry job transitions by job type and outcome",
			},
			[]string{"type", "outcome"},
		),
		TrackingEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprouter_tracking_events_total",
				Help: "Tracking events ingested by carrier and source",
			},
			[]string{"carrier", "source"},
		),
		HTTPRequestsServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprouter_http_requests_total",
				Help: "HTTP API requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

// RecordCarrierCall records a carrier call and its duration.
func (m *Metrics) RecordCarrierCall(action, carrier, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CarrierCalls.WithLabelValues(action, carrier, outcome).Inc()
	m.CarrierDuration.WithLabelValues(action, carrier).Observe(seconds)
}

// RecordCarrierError records a classified carrier error.
func (m *Metrics) RecordCarrierError(carrier, class string) {
	if m == nil {
		return
	}
	m.CarrierErrors.WithLabelValues(carrier, class).Inc()
}

// RecordDecision records a routing decision.
func (m *Metrics) RecordDecision(carrier, rule string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(carrier, rule).Inc()
}

// RecordFallback records that fallback quotes were used for a carrier.
func (m *Metrics) RecordFallback(carrier string) {
	if m == nil {
		return
	}
	m.FallbackQuotes.WithLabelValues(carrier).Inc()
}

// RecordRetryJob records a retry job transition: enqueued, retried,
// completed or failed.
func (m *Metrics) RecordRetryJob(jobType, outcome string) {
	if m == nil {
		return
	}
	m.RetryJobs.WithLabelValues(jobType, outcome).Inc()
}

// RecordTrackingEvents records ingested tracking events.
func (m *Metrics) RecordTrackingEvents(carrier, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TrackingEvents.WithLabelValues(carrier, source).Add(float64(n))
}

// RecordHTTPRequest records a served API request.
func (m *Metrics) RecordHTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsServed.WithLabelValues(route, statusLabel(code)).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

package telemetry_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprouter/internal/telemetry"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "error", "bogus", ""} {
		logger, err := telemetry.NewLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	m.RecordCarrierCall("create_shipment", "discount", "success", 0.2)
	m.RecordCarrierCall("create_shipment", "discount", "success", 0.3)
	m.RecordCarrierError("market", "rate_limit_exceeded")
	m.RecordDecision("discount", "savings_threshold")
	m.RecordFallback("market")
	m.RecordRetryJob("create_shipment", "enqueued")
	m.RecordTrackingEvents("discount", "poll", 3)
	m.RecordTrackingEvents("discount", "poll", 0)
	m.RecordHTTPRequest("/v1/routes", 422)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CarrierCalls.WithLabelValues("create_shipment", "discount", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CarrierErrors.WithLabelValues("market", "rate_limit_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingDecisions.WithLabelValues("discount", "savings_threshold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackQuotes.WithLabelValues("market")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetryJobs.WithLabelValues("create_shipment", "enqueued")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrackingEvents.WithLabelValues("discount", "poll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsServed.WithLabelValues("/v1/routes", "4xx")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *telemetry.Metrics

	assert.NotPanics(t, func() {
		m.RecordCarrierCall("track_shipment", "market", "error", 1)
		m.RecordCarrierError("market", "carrier_timeout")
		m.RecordDecision("market", "competitor_cheaper")
		m.RecordFallback("market")
		m.RecordRetryJob("track_shipment", "failed")
		m.RecordTrackingEvents("market", "webhook", 1)
		m.RecordHTTPRequest("/health", 200)
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		telemetry.NewMetrics(prometheus.NewRegistry())
		telemetry.NewMetrics(prometheus.NewRegistry())
	})
}

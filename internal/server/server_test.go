package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprouter/internal/rates"
	"github.com/tournevent/shiprouter/internal/resilience"
	"github.com/tournevent/shiprouter/internal/retryqueue"
	"github.com/tournevent/shiprouter/internal/routing"
	"github.com/tournevent/shiprouter/internal/server"
	"github.com/tournevent/shiprouter/internal/store"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/tournevent/shiprouter/internal/tracking"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/tournevent/shiprouter/pkg/shipper/discount"
	"github.com/tournevent/shiprouter/pkg/shipper/market"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

type testEnv struct {
	handler     http.Handler
	store       *store.MemoryStore
	queue       *retryqueue.Queue
	discountAPI *discount.MockAPIClient
	marketAPI   *market.MockAPIClient
	metrics     *telemetry.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := otelzap.New(zap.NewNop())
	clock := clockz.NewFakeClock()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	discountAPI := discount.NewMockAPIClient()
	marketAPI := market.NewMockAPIClient()
	marketAPI.SimulateErrors = true

	carriers := shipper.NewRegistry()
	carriers.Register(discount.NewWithAPIClient(discount.Config{}, discountAPI, logger, nil))
	carriers.Register(market.NewWithAPIClient(market.Config{}, marketAPI, logger, nil))

	mem := store.NewMemoryStore()
	queue := retryqueue.New(retryqueue.DefaultConfig(), retryqueue.NewMemoryStore(), logger).WithClock(clock)
	exec := resilience.New(resilience.Config{CreateRetryDelay: time.Millisecond}, logger).
		WithMetrics(metrics).
		WithAudit(mem).
		WithQueue(queue)

	router := routing.NewRouter(routing.RouterConfig{}, routing.RouterDeps{
		Normalizer: rates.New(rates.Config{}, nil, carriers, logger, metrics),
		Carriers:   carriers,
		Executor:   exec,
		Decisions:  mem,
		Shipments:  mem,
		Logger:     logger,
		Metrics:    metrics,
		Clock:      clock,
	})
	trk := tracking.NewService(carriers, exec, nil, mem, logger).WithShipments(mem).WithClock(clock)

	srv := server.New(server.Config{Port: 8080}, server.Deps{
		Router:   router,
		Tracking: trk,
		Jobs:     queue,
		Messages: exec.MerchantMessage,
		Gatherer: reg,
		Logger:   logger,
		Metrics:  metrics,
	})
	return &testEnv{
		handler:     srv.Handler(),
		store:       mem,
		queue:       queue,
		discountAPI: discountAPI,
		marketAPI:   marketAPI,
		metrics:     metrics,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func testOrder() shipper.OrderData {
	return shipper.OrderData{
		ID:          "ORD-100",
		Origin:      shipper.Address{Name: "Warehouse", Line1: "1 Dock Rd", City: "Los Angeles", Region: "CA", PostalCode: "90001", CountryCode: "US"},
		Destination: shipper.Address{Name: "Jane Doe", Line1: "500 Main St", City: "Atlanta", Region: "GA", PostalCode: "30301", CountryCode: "US"},
		Items:       []shipper.LineItem{{SKU: "tee", Quantity: 1, Weight: &shipper.Weight{Value: 9, Unit: shipper.WeightOZ}}},
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) server.APIError {
	t.Helper()
	var body server.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/routes", testOrder())

	rec := env.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shiprouter_routing_decisions_total")
}

func TestServer_Route(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/routes", testOrder())

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var d routing.Decision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.Equal(t, shipper.CarrierDiscount, d.Carrier)
	assert.Equal(t, routing.RuleSavingsThreshold, d.Rule)
	assert.Equal(t, 9.25, d.Savings)

	_, err := env.store.Shipment(context.Background(), "ORD-100")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequestsServed.WithLabelValues("/v1/routes", "2xx")))
}

func TestServer_RoutePOBox(t *testing.T) {
	env := newTestEnv(t)
	order := testOrder()
	order.Destination.Line1 = "PO Box 12"

	rec := env.do(t, http.MethodPost, "/v1/routes", order)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, string(shipper.ClassPOBoxNotSupported), apiErr.Class)
	assert.False(t, apiErr.Retryable)
	assert.Contains(t, apiErr.Message, "PO Box")
}

func TestServer_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/shipments", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "invalid JSON")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/routes", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_CreateShipment(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/shipments", testOrder(),
		server.HeaderOrganizationID, "org-1", server.HeaderUserID, "user-9")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp server.ShipmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Shipment)
	assert.Equal(t, shipper.CarrierDiscount, resp.Shipment.Carrier)
	assert.True(t, strings.HasPrefix(resp.Shipment.TrackingNumber, "DC"))
	assert.Nil(t, resp.Error)

	audit, err := env.store.AuditEntries(context.Background(), "ORD-100")
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Equal(t, "org-1", audit[0].OrganizationID)
	assert.Equal(t, "user-9", audit[0].UserID)
}

func TestServer_CreateShipmentDeferred(t *testing.T) {
	env := newTestEnv(t)
	env.discountAPI.UnservedPrefixes = []string{"30"}

	rec := env.do(t, http.MethodPost, "/v1/shipments", testOrder())

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp server.ShipmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Decision)
	assert.Equal(t, shipper.CarrierMarket, resp.Decision.Carrier)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(shipper.ClassCarrierUnavailable), resp.Error.Class)
	assert.True(t, resp.Error.Retryable)
	require.NotEmpty(t, resp.Error.RetryJobID)

	jobRec := env.do(t, http.MethodGet, "/v1/retry-jobs/"+resp.Error.RetryJobID, nil)
	require.Equal(t, http.StatusOK, jobRec.Code)
	var job retryqueue.Job
	require.NoError(t, json.NewDecoder(jobRec.Body).Decode(&job))
	assert.Equal(t, resilience.JobCreateShipment, job.Type)
	assert.Equal(t, retryqueue.StatusPending, job.Status)
}

func TestServer_RetryJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/retry-jobs/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Tracking(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/tracking/discount/DC0000000042", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp server.TrackingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, shipper.StatusInTransit, resp.Events[0].Status)
	assert.Equal(t, shipper.StatusInTransit, resp.Summary.Status)
	assert.True(t, resp.Summary.Active)
	assert.Equal(t, 2, resp.Summary.EventCount)
}

func TestServer_TrackingUnknownCarrier(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/tracking/pigeon/123", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TrackingCarrierDown(t *testing.T) {
	env := newTestEnv(t)
	env.discountAPI.SimulateErrors = true

	rec := env.do(t, http.MethodGet, "/v1/tracking/discount/DC0000000042", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, string(shipper.ClassCarrierUnavailable), apiErr.Class)
	assert.True(t, apiErr.Retryable)
	assert.NotEmpty(t, apiErr.Message)
}

func TestServer_Webhook(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/webhooks/discount/tracking", shipper.WebhookInput{
		TrackingNumber: "DC0000000042",
		StatusCode:     "SIGNED",
		Description:    "Signed by J. Doe",
		Timestamp:      "2026-03-02T10:00:00Z",
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var event shipper.TrackingEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&event))
	assert.Equal(t, shipper.StatusDelivered, event.Status)

	history, err := env.store.Events(context.Background(), shipper.CarrierDiscount, "DC0000000042")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestServer_WebhookInvalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/webhooks/discount/tracking", shipper.WebhookInput{StatusCode: "SIGNED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/webhooks/pigeon/tracking", shipper.WebhookInput{TrackingNumber: "1", StatusCode: "X"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ValidateAddress(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/addresses/validate", shipper.Address{
		Name: "A", Line1: "P.O. Box 5", City: "Austin", Region: "TX", PostalCode: "78701", CountryCode: "US",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Valid bool `json:"valid"`
		POBox bool `json:"po_box"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.False(t, res.Valid)
	assert.True(t, res.POBox)
}

package discount_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/tournevent/shiprouter/pkg/shipper/discount"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

func newTestClient(api discount.APIClient) *discount.Client {
	logger := otelzap.New(zap.NewNop())
	return discount.NewWithAPIClient(discount.Config{}, api, logger, nil)
}

func testShipmentRequest() *shipper.CreateShipmentRequest {
	return &shipper.CreateShipmentRequest{
		OrderID:   "order-1",
		Reference: "order-1-a1-abcd1234",
		Origin: shipper.Address{
			Name: "Warehouse", Line1: "1 Dock Rd", City: "Los Angeles",
			Region: "CA", PostalCode: "90001", CountryCode: "US",
		},
		Destination: shipper.Address{
			Name: "Jane Smith", Line1: "456 Oak Ave", City: "Dallas",
			Region: "TX", PostalCode: "75001", CountryCode: "US",
		},
		Package: shipper.PackageSpec{
			Weight:     shipper.Weight{Value: 9, Unit: shipper.WeightOZ},
			Dimensions: shipper.Dimensions{Length: 8, Width: 6, Height: 4, Unit: shipper.DimensionIN},
		},
	}
}

func TestClient_CreateShipment_Success(t *testing.T) {
	mockAPI := discount.NewMockAPIClient()
	var captured *discount.OrderRequest
	mockAPI.OnCreateOrder = func(ctx context.Context, req *discount.OrderRequest) (*discount.OrderResponse, error) {
		captured = req
		return &discount.OrderResponse{
			Envelope: discount.Envelope{Code: 0, Message: "success"},
			Data:     &discount.OrderData{OrderID: "dc-1", TrackingNumber: "DC0000000001", LabelURL: "https://l/1.pdf"},
		}, nil
	}
	client := newTestClient(mockAPI)

	result, err := client.CreateShipment(context.Background(), testShipmentRequest())

	require.NoError(t, err)
	assert.True(t, client.IsSuccessfulResponse(result.Response))
	assert.Equal(t, "DC0000000001", result.TrackingNumber)
	assert.Equal(t, "discount", result.Carrier)

	require.NotNil(t, captured)
	assert.Equal(t, "order-1-a1-abcd1234", captured.ReferenceNumber)
	assert.Equal(t, 0.255, captured.Parcel.WeightKG)
	assert.Equal(t, 20.32, captured.Parcel.LengthCM)
}

func TestClient_CreateShipment_SoftFailure(t *testing.T) {
	mockAPI := discount.NewMockAPIClient()
	mockAPI.OnCreateOrder = func(ctx context.Context, req *discount.OrderRequest) (*discount.OrderResponse, error) {
		return &discount.OrderResponse{Envelope: discount.Envelope{Code: 2001, Message: "收件人地址不完整"}}, nil
	}
	client := newTestClient(mockAPI)

	result, err := client.CreateShipment(context.Background(), testShipmentRequest())

	require.NoError(t, err)
	assert.False(t, client.IsSuccessfulResponse(result.Response))
	assert.Equal(t, "收件人地址不完整", result.Message, "raw carrier message is preserved")
}

func TestClient_CreateShipment_AllocationPending(t *testing.T) {
	tests := []struct {
		name string
		env  discount.Envelope
	}{
		{"by code", discount.Envelope{Code: discount.CodeTrackingNumberAllocating, Message: "busy"}},
		{"by message", discount.Envelope{Code: 9999, Message: "Tracking number allocation in progress, retry later"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAPI := discount.NewMockAPIClient()
			mockAPI.OnCreateOrder = func(ctx context.Context, req *discount.OrderRequest) (*discount.OrderResponse, error) {
				return &discount.OrderResponse{Envelope: tt.env}, nil
			}
			client := newTestClient(mockAPI)

			_, err := client.CreateShipment(context.Background(), testShipmentRequest())

			require.Error(t, err)
			assert.True(t, errors.Is(err, shipper.ErrTrackingNumberPending))
			assert.True(t, discount.IsAllocationPending(err))
		})
	}
}

func TestClient_CreateShipment_Rejected(t *testing.T) {
	tests := []struct {
		name string
		env  discount.Envelope
		want error
	}{
		{"address format by code", discount.Envelope{Code: discount.CodeInvalidAddress, Message: "收件人地址格式错误"}, shipper.ErrInvalidAddress},
		{"po box by code", discount.Envelope{Code: discount.CodePOBoxNotSupported, Message: "不支持邮政信箱 PO Box"}, shipper.ErrPOBoxNotSupported},
		{"coverage by code", discount.Envelope{Code: discount.CodeNotServiceable, Message: "不在服务范围"}, shipper.ErrCoverageNotAvailable},
		{"po box by message", discount.Envelope{Code: 4100, Message: "Receiver is a P.O. Box"}, shipper.ErrPOBoxNotSupported},
		{"coverage by message", discount.Envelope{Code: 4100, Message: "Destination out of service area"}, shipper.ErrCoverageNotAvailable},
		{"address by message", discount.Envelope{Code: 4100, Message: "Invalid address: missing street"}, shipper.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAPI := discount.NewMockAPIClient()
			mockAPI.OnCreateOrder = func(ctx context.Context, req *discount.OrderRequest) (*discount.OrderResponse, error) {
				return &discount.OrderResponse{Envelope: tt.env}, nil
			}
			client := newTestClient(mockAPI)

			_, err := client.CreateShipment(context.Background(), testShipmentRequest())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, discount.IsAllocationPending(err))

			var apiErr *discount.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.env.Code, apiErr.Code)
		})
	}
}

func TestClient_CheckCoverage_RejectedByCode(t *testing.T) {
	mockAPI := discount.NewMockAPIClient()
	mockAPI.OnCheckCoverage = func(ctx context.Context, req *discount.CoverageRequest) (*discount.CoverageResponse, error) {
		return &discount.CoverageResponse{Envelope: discount.Envelope{Code: discount.CodeNotServiceable, Message: "not serviceable"}}, nil
	}
	client := newTestClient(mockAPI)

	_, err := client.CheckCoverage(context.Background(), shipper.Address{PostalCode: "99501", CountryCode: "US"}, testShipmentRequest().Package)

	assert.ErrorIs(t, err, shipper.ErrCoverageNotAvailable)
}

func TestClient_CreateShipment_APIError(t *testing.T) {
	mockAPI := discount.NewMockAPIClient()
	mockAPI.SimulateErrors = true
	client := newTestClient(mockAPI)

	_, err := client.CreateShipment(context.Background(), testShipmentRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrServiceUnavailable))
}

func TestClient_TrackShipment(t *testing.T) {
	client := newTestClient(discount.NewMockAPIClient())

	result, err := client.TrackShipment(context.Background(), "DC123")

	require.NoError(t, err)
	assert.Equal(t, "DC123", result.TrackingNumber)
	require.Len(t, result.Events, 2)
	assert.Equal(t, "CREATED", result.Events[0].Code)
	assert.False(t, result.Events[0].Timestamp.IsZero())
}

func TestClient_TrackShipment_MalformedTime(t *testing.T) {
	clock := clockz.NewFakeClock()
	mockAPI := discount.NewMockAPIClient()
	mockAPI.OnGetTracking = func(ctx context.Context, trackingNumber string) (*discount.TrackingResponse, error) {
		return &discount.TrackingResponse{
			Envelope: discount.Envelope{Code: 0, Message: "success"},
			Data: &discount.TrackingData{TrackingNumber: trackingNumber, Nodes: []discount.TrackingNode{
				{StatusCode: "TRANSIT", Description: "Arrived at hub", Time: "2026/04/03 10:00"},
			}},
		}, nil
	}
	client := newTestClient(mockAPI).WithClock(clock)

	result, err := client.TrackShipment(context.Background(), "DC123")

	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, clock.Now().UTC(), result.Events[0].Timestamp)
}

func TestClient_PrintLabel(t *testing.T) {
	client := newTestClient(discount.NewMockAPIClient())

	result, err := client.PrintLabel(context.Background(), []string{"A", "B"})

	require.NoError(t, err)
	assert.Len(t, result.Labels, 2)
	assert.Contains(t, result.Labels["A"], "A.pdf")
}

func TestClient_CheckCoverage(t *testing.T) {
	mockAPI := discount.NewMockAPIClient()
	mockAPI.UnservedPrefixes = []string{"995"}
	client := newTestClient(mockAPI)
	pkg := testShipmentRequest().Package

	covered, err := client.CheckCoverage(context.Background(), shipper.Address{PostalCode: "75001", CountryCode: "US"}, pkg)
	require.NoError(t, err)
	assert.True(t, covered.Covered)

	notCovered, err := client.CheckCoverage(context.Background(), shipper.Address{PostalCode: "99501", CountryCode: "US"}, pkg)
	require.NoError(t, err)
	assert.False(t, notCovered.Covered)
	assert.NotEmpty(t, notCovered.Reason)
}

func TestClient_ValidateAddress(t *testing.T) {
	client := newTestClient(discount.NewMockAPIClient())

	result, err := client.ValidateAddress(context.Background(), shipper.Address{Line1: "1 Main", PostalCode: "75001"})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	result, err = client.ValidateAddress(context.Background(), shipper.Address{})
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestClient_Name(t *testing.T) {
	client := newTestClient(discount.NewMockAPIClient())
	assert.Equal(t, "discount", client.Name())
	assert.NotEmpty(t, client.DisplayName())
}

func TestHTTPAPIClient_CreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		var req discount.OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		_ = json.NewEncoder(w).Encode(discount.OrderResponse{
			Envelope: discount.Envelope{Code: 0, Message: "ok"},
			Data:     &discount.OrderData{OrderID: "o-1", ReferenceNumber: req.ReferenceNumber, TrackingNumber: "T1"},
		})
	}))
	defer srv.Close()

	api := discount.NewHTTPAPIClient(discount.HTTPAPIClientConfig{BaseURL: srv.URL, APIKey: "test-key"})
	resp, err := api.CreateOrder(context.Background(), &discount.OrderRequest{ReferenceNumber: "ref-1"})

	require.NoError(t, err)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "ref-1", resp.Data.ReferenceNumber)
}

func TestHTTPAPIClient_ErrorStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, shipper.ErrRateLimitExceeded},
		{http.StatusServiceUnavailable, shipper.ErrServiceUnavailable},
		{http.StatusUnauthorized, shipper.ErrAuthenticationFailed},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code": 4001, "message": "nope"}`))
			}))
			defer srv.Close()

			api := discount.NewHTTPAPIClient(discount.HTTPAPIClientConfig{BaseURL: srv.URL})
			_, err := api.GetTracking(context.Background(), "T1")

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))

			var apiErr *discount.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "4001", apiErr.CarrierCode())
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
		})
	}
}

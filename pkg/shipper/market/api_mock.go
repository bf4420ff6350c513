package market

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates        func(ctx context.Context, req *RatesRequest) (*RatesResponse, error)
	OnCreateLabel     func(ctx context.Context, req *LabelRequest) (*LabelResponse, error)
	OnGetLabel        func(ctx context.Context, trackingNumber string) (*LabelResponse, error)
	OnGetTracking     func(ctx context.Context, trackingNumber string) (*TrackingResponse, error)
	OnValidateAddress func(ctx context.Context, req *AddressRequest) (*AddressResponse, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{HTTPStatus: http.StatusServiceUnavailable, Code: "MOCK_ERROR", Description: "Simulated API error"}
	}
	return nil
}

// GetRates returns mock rates for the requested carrier.
func (m *MockAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}

	var rates []Rate
	switch req.CarrierCode {
	case "usps":
		rates = []Rate{
			{ServiceName: "USPS Ground Advantage", ServiceCode: "usps_ground_advantage", ShipmentCost: 8.10, TransitDaysMin: 2, TransitDaysMax: 5},
			{ServiceName: "USPS Priority Mail", ServiceCode: "usps_priority_mail", ShipmentCost: 10.40, OtherCost: 0.35, TransitDaysMin: 1, TransitDaysMax: 3},
		}
	case "ups":
		rates = []Rate{
			{ServiceName: "UPS Ground", ServiceCode: "ups_ground", ShipmentCost: 11.25, OtherCost: 1.15, TransitDaysMin: 1, TransitDaysMax: 5},
		}
	}

	return &RatesResponse{HTTPStatus: http.StatusOK, CarrierCode: req.CarrierCode, Rates: rates}, nil
}

// CreateLabel creates a mock label.
func (m *MockAPIClient) CreateLabel(ctx context.Context, req *LabelRequest) (*LabelResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnCreateLabel != nil {
		return m.OnCreateLabel(ctx, req)
	}

	trackingNumber := fmt.Sprintf("9400%018d", time.Now().UnixNano()%1000000000000000000)
	return &LabelResponse{
		HTTPStatus:     http.StatusOK,
		ShipmentID:     time.Now().UnixNano() % 100000000,
		TrackingNumber: trackingNumber,
		ShipmentCost:   8.10,
		LabelURL:       fmt.Sprintf("https://labels.market.mock/%s.pdf", trackingNumber),
	}, nil
}

// GetLabel returns a mock label reference.
func (m *MockAPIClient) GetLabel(ctx context.Context, trackingNumber string) (*LabelResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnGetLabel != nil {
		return m.OnGetLabel(ctx, trackingNumber)
	}

	return &LabelResponse{
		HTTPStatus:     http.StatusOK,
		TrackingNumber: trackingNumber,
		LabelURL:       fmt.Sprintf("https://labels.market.mock/%s.pdf", trackingNumber),
	}, nil
}

// GetTracking returns mock tracking information.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingNumber)
	}

	now := time.Now().UTC()
	return &TrackingResponse{
		HTTPStatus:     http.StatusOK,
		TrackingNumber: trackingNumber,
		StatusCode:     "IT",
		Events: []TrackingEvent{
			{StatusCode: "AC", Description: "Accepted at USPS origin facility", City: "Los Angeles", State: "CA", OccurredAt: now.Add(-30 * time.Hour).Format(time.RFC3339)},
			{StatusCode: "IT", Description: "In transit to next facility", City: "Phoenix", State: "AZ", OccurredAt: now.Add(-6 * time.Hour).Format(time.RFC3339)},
		},
	}, nil
}

// ValidateAddress accepts any address with a street and postal code.
func (m *MockAPIClient) ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnValidateAddress != nil {
		return m.OnValidateAddress(ctx, req)
	}

	if req.Address.Street1 == "" || req.Address.PostalCode == "" {
		return &AddressResponse{HTTPStatus: http.StatusOK, Valid: false, Messages: []string{"Address not found"}}, nil
	}
	matched := req.Address
	return &AddressResponse{HTTPStatus: http.StatusOK, Valid: true, Matched: &matched}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

package discount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	// UnservedPrefixes lists destination postal code prefixes the mock
	// reports as outside coverage.
	UnservedPrefixes []string

	OnCreateOrder     func(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	OnGetTracking     func(ctx context.Context, trackingNumber string) (*TrackingResponse, error)
	OnPrintLabels     func(ctx context.Context, req *LabelRequest) (*LabelResponse, error)
	OnCheckCoverage   func(ctx context.Context, req *CoverageRequest) (*CoverageResponse, error)
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
		return &APIError{HTTPStatus: 503, Code: 5000, Message: "Simulated API error"}
	}
	return nil
}

// CreateOrder creates a mock order.
func (m *MockAPIClient) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnCreateOrder != nil {
		return m.OnCreateOrder(ctx, req)
	}

	orderID := "dc-" + uuid.New().String()[:8]
	trackingNumber := fmt.Sprintf("DC%010d", time.Now().UnixNano()%10000000000)

	return &OrderResponse{
		Envelope: Envelope{Code: CodeSuccess, Message: "success"},
		Data: &OrderData{
			OrderID:         orderID,
			ReferenceNumber: req.ReferenceNumber,
			TrackingNumber:  trackingNumber,
			LabelURL:        fmt.Sprintf("https://labels.discount.mock/%s.pdf", trackingNumber),
			Currency:        "USD",
		},
	}, nil
}

// GetTracking retrieves mock tracking nodes.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingNumber)
	}

	now := time.Now().UTC()
	return &TrackingResponse{
		Envelope: Envelope{Code: CodeSuccess, Message: "success"},
		Data: &TrackingData{
			TrackingNumber: trackingNumber,
			Nodes: []TrackingNode{
				{
					StatusCode:  "CREATED",
					Description: "Shipment information received",
					Location:    "Los Angeles, CA",
					Time:        now.Add(-48 * time.Hour).Format(time.RFC3339),
				},
				{
					StatusCode:  "TRANSIT",
					Description: "Departed sort facility",
					Location:    "Ontario, CA",
					Time:        now.Add(-24 * time.Hour).Format(time.RFC3339),
				},
			},
		},
	}, nil
}

// PrintLabels returns mock labels.
func (m *MockAPIClient) PrintLabels(ctx context.Context, req *LabelRequest) (*LabelResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnPrintLabels != nil {
		return m.OnPrintLabels(ctx, req)
	}

	items := make([]LabelItem, len(req.TrackingNumbers))
	for i, tn := range req.TrackingNumbers {
		items[i] = LabelItem{TrackingNumber: tn, URL: fmt.Sprintf("https://labels.discount.mock/%s.pdf", tn)}
	}
	return &LabelResponse{Envelope: Envelope{Code: CodeSuccess, Message: "success"}, Data: items}, nil
}

// CheckCoverage reports every postal code as serviceable unless it matches
// UnservedPrefixes.
func (m *MockAPIClient) CheckCoverage(ctx context.Context, req *CoverageRequest) (*CoverageResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnCheckCoverage != nil {
		return m.OnCheckCoverage(ctx, req)
	}

	data := &CoverageData{Serviceable: true}
	for _, p := range m.UnservedPrefixes {
		if strings.HasPrefix(req.PostalCode, p) {
			data = &CoverageData{Serviceable: false, Reason: "postal code not in service area"}
			break
		}
	}
	return &CoverageResponse{Envelope: Envelope{Code: CodeSuccess, Message: "success"}, Data: data}, nil
}

// ValidateAddress accepts any address with a street and postal code.
func (m *MockAPIClient) ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}

	if m.OnValidateAddress != nil {
		return m.OnValidateAddress(ctx, req)
	}

	data := &AddressData{Valid: true}
	if req.Address.Street1 == "" || req.Address.PostalCode == "" {
		data = &AddressData{Valid: false, Messages: []string{"street and postal code are required"}}
	}
	return &AddressResponse{Envelope: Envelope{Code: CodeSuccess, Message: "success"}, Data: data}, nil
}

var _ APIClient = (*MockAPIClient)(nil)

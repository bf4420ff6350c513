// Package mock provides a mock shipper implementation for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/shiprouter/pkg/shipper"
)

// Client is a mock shipper for testing. Hooks override the default
// behavior of each operation when set.
type Client struct {
	name string

	OnGetQuotes      func(ctx context.Context, req *shipper.RateQuoteRequest) ([]shipper.RateQuote, error)
	OnCreateShipment func(ctx context.Context, req *shipper.CreateShipmentRequest) (*shipper.ShipmentResult, error)
	OnTrackShipment  func(ctx context.Context, trackingNumber string) (*shipper.TrackingResult, error)
	OnPrintLabel     func(ctx context.Context, trackingNumbers []string) (*shipper.LabelResult, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ shipper.QuoteProvider = (*Client)(nil)

// New creates a new mock shipper.
func New(name string) *Client {
	return &Client{name: name, calls: make(map[string]int)}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.name
}

// DisplayName returns the carrier display name.
func (c *Client) DisplayName() string {
	return fmt.Sprintf("Mock %s", c.name)
}

// Calls returns how many times an operation was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
}

// IsSuccessfulResponse treats any non-negative code as success.
func (c *Client) IsSuccessfulResponse(resp shipper.Response) bool {
	return resp.Code >= 0
}

// GetQuotes returns mock shipping quotes.
func (c *Client) GetQuotes(ctx context.Context, req *shipper.RateQuoteRequest) ([]shipper.RateQuote, error) {
	c.record("GetQuotes")
	if c.OnGetQuotes != nil {
		return c.OnGetQuotes(ctx, req)
	}
	return []shipper.RateQuote{
		{
			Carrier:      c.name,
			CarrierName:  c.DisplayName(),
			ServiceCode:  "STANDARD",
			ServiceName:  fmt.Sprintf("%s Standard", c.name),
			Cost:         shipper.Money{Amount: 12.50, Currency: "USD"},
			DeliveryDays: shipper.DeliveryDays{Min: 3, Max: 5},
			Source:       shipper.QuoteLive,
		},
		{
			Carrier:      c.name,
			CarrierName:  c.DisplayName(),
			ServiceCode:  "EXPRESS",
			ServiceName:  fmt.Sprintf("%s Express", c.name),
			Cost:         shipper.Money{Amount: 29.95, Currency: "USD"},
			DeliveryDays: shipper.DeliveryDays{Min: 1, Max: 2},
			Source:       shipper.QuoteLive,
		},
	}, nil
}

// CreateShipment creates a mock shipment.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.CreateShipmentRequest) (*shipper.ShipmentResult, error) {
	c.record("CreateShipment")
	if c.OnCreateShipment != nil {
		return c.OnCreateShipment(ctx, req)
	}
	id := uuid.NewString()
	return &shipper.ShipmentResult{
		Response:       shipper.Response{HTTPStatus: 200},
		Carrier:        c.name,
		ShipmentID:     id,
		TrackingNumber: fmt.Sprintf("MOCK%d", time.Now().UnixNano()%1000000000),
		LabelURL:       fmt.Sprintf("https://labels.%s.mock/%s.pdf", c.name, id),
		ServiceCode:    req.ServiceCode,
	}, nil
}

// TrackShipment returns a mock tracking history.
func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) (*shipper.TrackingResult, error) {
	c.record("TrackShipment")
	if c.OnTrackShipment != nil {
		return c.OnTrackShipment(ctx, trackingNumber)
	}
	return &shipper.TrackingResult{
		Response:       shipper.Response{HTTPStatus: 200},
		TrackingNumber: trackingNumber,
		Events: []shipper.CarrierEvent{
			{Code: "CREATED", Description: "Label created", Timestamp: time.Now().Add(-time.Hour).UTC()},
		},
	}, nil
}

// PrintLabel returns mock label references.
func (c *Client) PrintLabel(ctx context.Context, trackingNumbers []string) (*shipper.LabelResult, error) {
	c.record("PrintLabel")
	if c.OnPrintLabel != nil {
		return c.OnPrintLabel(ctx, trackingNumbers)
	}
	labels := make(map[string]string, len(trackingNumbers))
	for _, tn := range trackingNumbers {
		labels[tn] = fmt.Sprintf("https://labels.%s.mock/%s.pdf", c.name, tn)
	}
	return &shipper.LabelResult{Response: shipper.Response{HTTPStatus: 200}, Labels: labels}, nil
}

// Package discount provides integration with the discount carrier API.
package discount

import (
	"context"
	"time"

	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	carrierName = shipper.CarrierDiscount
	displayName = "Discount Carrier"
)

// Config holds discount carrier configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	UseMock bool // When true, uses mock API client
}

// Client is the discount carrier shipper client.
// It implements shipper.Shipper, shipper.CoverageChecker and
// shipper.AddressValidator, delegating API calls to the underlying
// APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
	clock     clockz.Clock
}

var (
	_ shipper.Shipper          = (*Client)(nil)
	_ shipper.CoverageChecker  = (*Client)(nil)
	_ shipper.AddressValidator = (*Client)(nil)
)

// New creates a new discount carrier client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new discount carrier client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(carrierName)
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
		clock:     clockz.RealClock,
	}
}

// WithClock sets the clock used to stamp tracking events whose time the
// carrier sent malformed.
func (c *Client) WithClock(clock clockz.Clock) *Client {
	c.clock = clock
	return c
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// DisplayName returns the human-readable carrier name.
func (c *Client) DisplayName() string {
	return displayName
}

// IsSuccessfulResponse reports success when the envelope code is zero. The
// carrier answers HTTP 200 for most business failures.
func (c *Client) IsSuccessfulResponse(resp shipper.Response) bool {
	return resp.Code == CodeSuccess
}

// CreateShipment books a shipment with the discount carrier.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.CreateShipmentRequest) (*shipper.ShipmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "discount.CreateShipment")
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating discount order",
		zap.String("order_id", req.OrderID),
		zap.String("reference", req.Reference),
	)

	apiReq, err := shipmentRequestToAPI(req)
	if err != nil {
		return nil, err
	}

	apiResp, err := c.apiClient.CreateOrder(ctx, apiReq)
	if err != nil {
		c.logger.Ctx(ctx).Error("Discount API error", zap.Error(err))
		return nil, err
	}

	if err := envelopeError(apiResp.Envelope); err != nil {
		c.logger.Ctx(ctx).Warn("Discount order rejected",
			zap.String("order_id", req.OrderID),
			zap.Int("code", apiResp.Code),
			zap.String("message", apiResp.Message),
		)
		return nil, err
	}

	return orderResponseToShipper(apiResp), nil
}

// TrackShipment retrieves tracking history from the discount carrier.
func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) (*shipper.TrackingResult, error) {
	ctx, span := c.tracer.Start(ctx, "discount.TrackShipment")
	defer span.End()

	c.logger.Ctx(ctx).Info("Tracking discount shipment", zap.String("tracking_number", trackingNumber))

	apiResp, err := c.apiClient.GetTracking(ctx, trackingNumber)
	if err != nil {
		c.logger.Ctx(ctx).Error("Discount API error", zap.Error(err))
		return nil, err
	}
	if err := envelopeError(apiResp.Envelope); err != nil {
		return nil, err
	}

	return c.trackingResponseToShipper(ctx, trackingNumber, apiResp), nil
}

// PrintLabel retrieves label references for a batch of tracking numbers.
func (c *Client) PrintLabel(ctx context.Context, trackingNumbers []string) (*shipper.LabelResult, error) {
	ctx, span := c.tracer.Start(ctx, "discount.PrintLabel")
	defer span.End()

	c.logger.Ctx(ctx).Info("Printing discount labels", zap.Int("count", len(trackingNumbers)))

	apiResp, err := c.apiClient.PrintLabels(ctx, &LabelRequest{TrackingNumbers: trackingNumbers, Format: "pdf"})
	if err != nil {
		c.logger.Ctx(ctx).Error("Discount API error", zap.Error(err))
		return nil, err
	}

	labels := make(map[string]string, len(apiResp.Data))
	for _, item := range apiResp.Data {
		labels[item.TrackingNumber] = item.URL
	}
	return &shipper.LabelResult{Response: envelopeToResponse(apiResp.Envelope), Labels: labels}, nil
}

// CheckCoverage asks the carrier whether it serves the destination.
func (c *Client) CheckCoverage(ctx context.Context, addr shipper.Address, pkg shipper.PackageSpec) (*shipper.CoverageResult, error) {
	ctx, span := c.tracer.Start(ctx, "discount.CheckCoverage")
	defer span.End()

	c.logger.Ctx(ctx).Info("Checking discount coverage",
		zap.String("postal_code", addr.PostalCode),
		zap.String("country", addr.CountryCode),
	)

	kg, err := pkg.Weight.Kilograms()
	if err != nil {
		return nil, err
	}

	apiResp, err := c.apiClient.CheckCoverage(ctx, &CoverageRequest{
		PostalCode: addr.PostalCode,
		Country:    addr.CountryCode,
		WeightKG:   kg,
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Discount API error", zap.Error(err))
		return nil, err
	}
	if err := envelopeError(apiResp.Envelope); err != nil {
		return nil, err
	}

	result := &shipper.CoverageResult{Response: envelopeToResponse(apiResp.Envelope)}
	if apiResp.Data != nil {
		result.Covered = apiResp.Data.Serviceable
		result.Reason = apiResp.Data.Reason
	}
	return result, nil
}

// ValidateAddress asks the carrier to validate an address.
func (c *Client) ValidateAddress(ctx context.Context, addr shipper.Address) (*shipper.AddressValidationResult, error) {
	ctx, span := c.tracer.Start(ctx, "discount.ValidateAddress")
	defer span.End()

	c.logger.Ctx(ctx).Info("Validating address with discount carrier", zap.String("country", addr.CountryCode))

	apiResp, err := c.apiClient.ValidateAddress(ctx, &AddressRequest{Address: addressToParty(addr)})
	if err != nil {
		c.logger.Ctx(ctx).Error("Discount API error", zap.Error(err))
		return nil, err
	}
	if err := envelopeError(apiResp.Envelope); err != nil {
		return nil, err
	}

	result := &shipper.AddressValidationResult{Response: envelopeToResponse(apiResp.Envelope)}
	if apiResp.Data != nil {
		result.Valid = apiResp.Data.Valid
		result.Messages = apiResp.Data.Messages
	}
	return result, nil
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func addressToParty(addr shipper.Address) Party {
	residential := false
	if addr.IsResidential != nil {
		residential = *addr.IsResidential
	}
	return Party{
		Name:        addr.Name,
		Company:     addr.Company,
		Phone:       addr.Phone,
		Email:       addr.Email,
		Street1:     addr.Line1,
		Street2:     addr.Line2,
		City:        addr.City,
		State:       addr.Region,
		PostalCode:  addr.PostalCode,
		Country:     addr.CountryCode,
		Residential: residential,
	}
}

func shipmentRequestToAPI(req *shipper.CreateShipmentRequest) (*OrderRequest, error) {
	kg, err := req.Package.Weight.Kilograms()
	if err != nil {
		return nil, err
	}
	dims, err := req.Package.Dimensions.Centimeters()
	if err != nil {
		return nil, err
	}

	return &OrderRequest{
		ReferenceNumber: req.Reference,
		ServiceCode:     req.ServiceCode,
		Sender:          addressToParty(req.Origin),
		Receiver:        addressToParty(req.Destination),
		Parcel: Parcel{
			WeightKG: kg,
			LengthCM: dims.Length,
			WidthCM:  dims.Width,
			HeightCM: dims.Height,
		},
	}, nil
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

func envelopeToResponse(env Envelope) shipper.Response {
	return shipper.Response{Code: env.Code, Message: env.Message}
}

func orderResponseToShipper(resp *OrderResponse) *shipper.ShipmentResult {
	result := &shipper.ShipmentResult{
		Response: envelopeToResponse(resp.Envelope),
		Carrier:  carrierName,
	}
	if resp.Data == nil {
		return result
	}

	result.ShipmentID = resp.Data.OrderID
	result.TrackingNumber = resp.Data.TrackingNumber
	result.LabelURL = resp.Data.LabelURL
	if resp.Data.Fee > 0 {
		result.Charged = &shipper.Money{Amount: resp.Data.Fee, Currency: resp.Data.Currency}
	}
	return result
}

// trackingResponseToShipper converts tracking nodes. A node whose time does
// not parse is stamped with the conversion time so it stays at the head of
// the history instead of sorting as the oldest event.
func (c *Client) trackingResponseToShipper(ctx context.Context, trackingNumber string, resp *TrackingResponse) *shipper.TrackingResult {
	result := &shipper.TrackingResult{
		Response:       envelopeToResponse(resp.Envelope),
		TrackingNumber: trackingNumber,
	}
	if resp.Data == nil {
		return result
	}

	result.Events = make([]shipper.CarrierEvent, 0, len(resp.Data.Nodes))
	for _, n := range resp.Data.Nodes {
		ts, err := time.Parse(time.RFC3339, n.Time)
		if err != nil {
			c.logger.Ctx(ctx).Warn("Unparseable discount tracking time",
				zap.String("tracking_number", trackingNumber),
				zap.String("time", n.Time),
				zap.Error(err),
			)
			ts = c.clock.Now()
		}
		result.Events = append(result.Events, shipper.CarrierEvent{
			Code:        n.StatusCode,
			Description: n.Description,
			Location:    n.Location,
			Timestamp:   ts.UTC(),
		})
	}
	return result
}

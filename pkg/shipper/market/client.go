// Package market provides integration with a multi-carrier market rate
// aggregator (USPS, UPS and others behind one REST API).
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	carrierName = shipper.CarrierMarket
	displayName = "Market Carriers"

	serviceSeparator = ":"
)

// DefaultCarrierCodes are queried when Config.CarrierCodes is empty.
var DefaultCarrierCodes = []string{"usps", "ups"}

// fallbackRates are conservative typical rates used when a carrier's live
// quoting fails.
var fallbackRates = map[string]Rate{
	"usps": {ServiceName: "USPS Ground Advantage", ServiceCode: "usps_ground_advantage", ShipmentCost: 12.50, TransitDaysMin: 3, TransitDaysMax: 5},
	"ups":  {ServiceName: "UPS Ground", ServiceCode: "ups_ground", ShipmentCost: 14.75, TransitDaysMin: 3, TransitDaysMax: 5},
}

// Config holds market aggregator configuration.
type Config struct {
	APIKey       string
	APISecret    string
	BaseURL      string
	CarrierCodes []string
	Timeout      time.Duration
	TestLabels   bool
	UseMock      bool // When true, uses mock API client
}

// Client is the market aggregator shipper client.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

var (
	_ shipper.QuoteProvider    = (*Client)(nil)
	_ shipper.FallbackQuoter   = (*Client)(nil)
	_ shipper.AddressValidator = (*Client)(nil)
)

// New creates a new market client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Timeout:   cfg.Timeout,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new market client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if len(cfg.CarrierCodes) == 0 {
		cfg.CarrierCodes = DefaultCarrierCodes
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(carrierName)
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// DisplayName returns the human-readable carrier name.
func (c *Client) DisplayName() string {
	return displayName
}

// IsSuccessfulResponse reports success for any 2xx HTTP status.
func (c *Client) IsSuccessfulResponse(resp shipper.Response) bool {
	return resp.HTTPStatus >= 200 && resp.HTTPStatus < 300
}

// GetQuotes fetches live rates from every configured carrier concurrently.
// A carrier whose call fails contributes its fallback quote instead. An
// error is returned only when every carrier failed.
func (c *Client) GetQuotes(ctx context.Context, req *shipper.RateQuoteRequest) ([]shipper.RateQuote, error) {
	ctx, span := c.tracer.Start(ctx, "market.GetQuotes")
	defer span.End()

	c.logger.Ctx(ctx).Info("Getting market quotes",
		zap.String("origin_postal", req.Origin.PostalCode),
		zap.String("destination_postal", req.Destination.PostalCode),
		zap.Strings("carriers", c.config.CarrierCodes),
	)

	weight, dims, err := packageToAPI(req.Package)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		quotes []shipper.RateQuote
		errs   []error
	)

	// Failures are collected per carrier, so no goroutine returns an error.
	var g errgroup.Group
	for _, code := range c.config.CarrierCodes {
		g.Go(func() error {
			resp, err := c.apiClient.GetRates(ctx, &RatesRequest{
				CarrierCode:    code,
				FromPostalCode: req.Origin.PostalCode,
				ToPostalCode:   req.Destination.PostalCode,
				ToState:        req.Destination.Region,
				ToCountry:      req.Destination.CountryCode,
				Weight:         weight,
				Dimensions:     dims,
				Residential:    isResidential(req.Destination),
			})
			if err == nil && !c.IsSuccessfulResponse(shipper.Response{HTTPStatus: resp.HTTPStatus}) {
				err = fmt.Errorf("%w: HTTP %d", shipper.ErrUnsuccessfulResponse, resp.HTTPStatus)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Ctx(ctx).Warn("Market carrier rates failed, using fallback",
					zap.String("carrier_code", code),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("%s: %w", code, err))
				if fb, ok := fallbackQuote(code); ok {
					quotes = append(quotes, fb)
				}
				return nil
			}
			for _, r := range resp.Rates {
				quotes = append(quotes, rateToQuote(code, r, shipper.QuoteLive))
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == len(c.config.CarrierCodes) {
		c.logger.Ctx(ctx).Error("Market API error", zap.Int("failed_carriers", len(errs)))
		return nil, errors.Join(errs...)
	}

	sortQuotes(quotes)
	return quotes, nil
}

// FallbackQuotes returns the conservative typical rates of every configured
// carrier, marked with shipper.QuoteFallback.
func (c *Client) FallbackQuotes(req *shipper.RateQuoteRequest) []shipper.RateQuote {
	quotes := make([]shipper.RateQuote, 0, len(c.config.CarrierCodes))
	for _, code := range c.config.CarrierCodes {
		if fb, ok := fallbackQuote(code); ok {
			quotes = append(quotes, fb)
		}
	}
	return quotes
}

// CreateShipment buys a label through the aggregator.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.CreateShipmentRequest) (*shipper.ShipmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "market.CreateShipment")
	defer span.End()

	carrierCode, serviceCode := c.splitServiceCode(req.ServiceCode)

	c.logger.Ctx(ctx).Info("Creating market label",
		zap.String("order_id", req.OrderID),
		zap.String("carrier_code", carrierCode),
		zap.String("service_code", serviceCode),
	)

	weight, dims, err := packageToAPI(req.Package)
	if err != nil {
		return nil, err
	}

	apiResp, err := c.apiClient.CreateLabel(ctx, &LabelRequest{
		CarrierCode: carrierCode,
		ServiceCode: serviceCode,
		ExternalRef: req.Reference,
		ShipFrom:    addressToAPI(req.Origin),
		ShipTo:      addressToAPI(req.Destination),
		Weight:      weight,
		Dimensions:  dims,
		TestLabel:   c.config.TestLabels,
		LabelFormat: "pdf",
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Market API error", zap.Error(err))
		return nil, err
	}

	result := &shipper.ShipmentResult{
		Response:       shipper.Response{HTTPStatus: apiResp.HTTPStatus},
		Carrier:        carrierName,
		ShipmentID:     fmt.Sprintf("%d", apiResp.ShipmentID),
		TrackingNumber: apiResp.TrackingNumber,
		LabelURL:       apiResp.LabelURL,
		ServiceCode:    req.ServiceCode,
	}
	if apiResp.ShipmentCost > 0 {
		result.Charged = &shipper.Money{Amount: apiResp.ShipmentCost, Currency: "USD"}
	}
	return result, nil
}

// TrackShipment retrieves tracking history through the aggregator.
func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) (*shipper.TrackingResult, error) {
	ctx, span := c.tracer.Start(ctx, "market.TrackShipment")
	defer span.End()

	c.logger.Ctx(ctx).Info("Tracking market shipment", zap.String("tracking_number", trackingNumber))

	apiResp, err := c.apiClient.GetTracking(ctx, trackingNumber)
	if err != nil {
		c.logger.Ctx(ctx).Error("Market API error", zap.Error(err))
		return nil, err
	}

	return trackingResponseToShipper(trackingNumber, apiResp), nil
}

// PrintLabel re-fetches labels for each tracking number.
func (c *Client) PrintLabel(ctx context.Context, trackingNumbers []string) (*shipper.LabelResult, error) {
	ctx, span := c.tracer.Start(ctx, "market.PrintLabel")
	defer span.End()

	c.logger.Ctx(ctx).Info("Reprinting market labels", zap.Int("count", len(trackingNumbers)))

	result := &shipper.LabelResult{Labels: make(map[string]string, len(trackingNumbers))}
	for _, tn := range trackingNumbers {
		apiResp, err := c.apiClient.GetLabel(ctx, tn)
		if err != nil {
			c.logger.Ctx(ctx).Error("Market API error", zap.String("tracking_number", tn), zap.Error(err))
			return nil, err
		}
		result.HTTPStatus = apiResp.HTTPStatus
		result.Labels[tn] = apiResp.LabelURL
	}
	return result, nil
}

// ValidateAddress validates an address through the aggregator.
func (c *Client) ValidateAddress(ctx context.Context, addr shipper.Address) (*shipper.AddressValidationResult, error) {
	ctx, span := c.tracer.Start(ctx, "market.ValidateAddress")
	defer span.End()

	c.logger.Ctx(ctx).Info("Validating address with market aggregator", zap.String("country", addr.CountryCode))

	apiResp, err := c.apiClient.ValidateAddress(ctx, &AddressRequest{Address: addressToAPI(addr)})
	if err != nil {
		c.logger.Ctx(ctx).Error("Market API error", zap.Error(err))
		return nil, err
	}

	result := &shipper.AddressValidationResult{
		Response: shipper.Response{HTTPStatus: apiResp.HTTPStatus},
		Valid:    apiResp.Valid,
		Messages: apiResp.Messages,
	}
	if apiResp.Matched != nil {
		suggested := addressFromAPI(*apiResp.Matched)
		result.Suggested = &suggested
	}
	return result, nil
}

// splitServiceCode splits "usps:usps_ground_advantage" into its carrier
// and service parts. A bare service code is sent to the first configured
// carrier.
func (c *Client) splitServiceCode(code string) (string, string) {
	if carrier, service, ok := strings.Cut(code, serviceSeparator); ok {
		return carrier, service
	}
	return c.config.CarrierCodes[0], code
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func isResidential(addr shipper.Address) bool {
	return addr.IsResidential == nil || *addr.IsResidential
}

func addressToAPI(addr shipper.Address) Address {
	return Address{
		Name:        addr.Name,
		Company:     addr.Company,
		Street1:     addr.Line1,
		Street2:     addr.Line2,
		City:        addr.City,
		State:       addr.Region,
		PostalCode:  addr.PostalCode,
		Country:     addr.CountryCode,
		Phone:       addr.Phone,
		Residential: isResidential(addr),
	}
}

func packageToAPI(pkg shipper.PackageSpec) (WeightSpec, DimensionsSpec, error) {
	oz, err := pkg.Weight.Ounces()
	if err != nil {
		return WeightSpec{}, DimensionsSpec{}, err
	}
	in, err := pkg.Dimensions.Inches()
	if err != nil {
		return WeightSpec{}, DimensionsSpec{}, err
	}
	return WeightSpec{Value: oz, Units: "ounces"},
		DimensionsSpec{Length: in.Length, Width: in.Width, Height: in.Height, Units: "inches"},
		nil
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

func addressFromAPI(addr Address) shipper.Address {
	residential := addr.Residential
	return shipper.Address{
		Name:          addr.Name,
		Company:       addr.Company,
		Line1:         addr.Street1,
		Line2:         addr.Street2,
		City:          addr.City,
		Region:        addr.State,
		PostalCode:    addr.PostalCode,
		CountryCode:   addr.Country,
		Phone:         addr.Phone,
		IsResidential: &residential,
	}
}

func fallbackQuote(code string) (shipper.RateQuote, bool) {
	r, ok := fallbackRates[code]
	if !ok {
		return shipper.RateQuote{}, false
	}
	return rateToQuote(code, r, shipper.QuoteFallback), true
}

func rateToQuote(code string, r Rate, source shipper.QuoteSource) shipper.RateQuote {
	days := shipper.DeliveryDays{Min: r.TransitDaysMin, Max: r.TransitDaysMax}
	if days.Min == 0 && days.Max == 0 {
		days = shipper.DeliveryDays{Min: 3, Max: 5}
	}
	if days.Max < days.Min {
		days.Max = days.Min
	}

	return shipper.RateQuote{
		Carrier:      carrierName,
		CarrierName:  strings.ToUpper(code),
		ServiceCode:  code + serviceSeparator + r.ServiceCode,
		ServiceName:  r.ServiceName,
		Cost:         shipper.Money{Amount: shipper.Round(r.ShipmentCost+r.OtherCost, 2), Currency: "USD"},
		DeliveryDays: days,
		Source:       source,
	}
}

func sortQuotes(quotes []shipper.RateQuote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].Cost.Amount != quotes[j].Cost.Amount {
			return quotes[i].Cost.Amount < quotes[j].Cost.Amount
		}
		return quotes[i].ServiceCode < quotes[j].ServiceCode
	})
}

func trackingResponseToShipper(trackingNumber string, resp *TrackingResponse) *shipper.TrackingResult {
	result := &shipper.TrackingResult{
		Response:       shipper.Response{HTTPStatus: resp.HTTPStatus},
		TrackingNumber: trackingNumber,
		Events:         make([]shipper.CarrierEvent, 0, len(resp.Events)),
	}
	for _, e := range resp.Events {
		ts, _ := time.Parse(time.RFC3339, e.OccurredAt)
		location := e.City
		if e.State != "" {
			location = strings.TrimPrefix(location+", "+e.State, ", ")
		}
		result.Events = append(result.Events, shipper.CarrierEvent{
			Code:        e.StatusCode,
			Description: e.Description,
			Location:    location,
			Timestamp:   ts.UTC(),
		})
	}
	return result
}

package market

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tournevent/shiprouter/pkg/shipper"
)

// APIClient defines the interface for market aggregator API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetRates fetches live rates for a single carrier code
	GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error)

	// CreateLabel buys a label and allocates a tracking number
	CreateLabel(ctx context.Context, req *LabelRequest) (*LabelResponse, error)

	// GetLabel re-fetches the label of an existing shipment
	GetLabel(ctx context.Context, trackingNumber string) (*LabelResponse, error)

	// GetTracking retrieves tracking information
	GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error)

	// ValidateAddress validates a destination address
	ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error)
}

// ============================================================================
// API Request/Response Types (aggregator REST/JSON structure)
// ============================================================================

// WeightSpec is an aggregator weight.
type WeightSpec struct {
	Value float64 `json:"value"`
	Units string  `json:"units"` // "ounces"
}

// DimensionsSpec is an aggregator dimension set.
type DimensionsSpec struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Units  string  `json:"units"` // "inches"
}

// Address is an aggregator address.
type Address struct {
	Name        string `json:"name"`
	Company     string `json:"company,omitempty"`
	Street1     string `json:"street1"`
	Street2     string `json:"street2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postalCode"`
	Country     string `json:"country"`
	Phone       string `json:"phone,omitempty"`
	Residential bool   `json:"residential"`
}

// RatesRequest is the body of POST /shipments/getrates.
type RatesRequest struct {
	CarrierCode    string         `json:"carrierCode"`
	FromPostalCode string         `json:"fromPostalCode"`
	ToPostalCode   string         `json:"toPostalCode"`
	ToState        string         `json:"toState,omitempty"`
	ToCountry      string         `json:"toCountry"`
	Weight         WeightSpec     `json:"weight"`
	Dimensions     DimensionsSpec `json:"dimensions"`
	Residential    bool           `json:"residential"`
}

// Rate is one service rate.
type Rate struct {
	ServiceName    string  `json:"serviceName"`
	ServiceCode    string  `json:"serviceCode"`
	ShipmentCost   float64 `json:"shipmentCost"`
	OtherCost      float64 `json:"otherCost"`
	TransitDaysMin int     `json:"transitDaysMin"`
	TransitDaysMax int     `json:"transitDaysMax"`
}

// RatesResponse is the response of POST /shipments/getrates.
type RatesResponse struct {
	HTTPStatus  int    `json:"-"`
	CarrierCode string `json:"carrierCode"`
	Rates       []Rate `json:"rates"`
}

// LabelRequest is the body of POST /shipments/createlabel.
type LabelRequest struct {
	CarrierCode  string         `json:"carrierCode"`
	ServiceCode  string         `json:"serviceCode"`
	ExternalRef  string         `json:"externalReference"` // idempotency key
	ShipFrom     Address        `json:"shipFrom"`
	ShipTo       Address        `json:"shipTo"`
	Weight       WeightSpec     `json:"weight"`
	Dimensions   DimensionsSpec `json:"dimensions"`
	TestLabel    bool           `json:"testLabel"`
	LabelFormat  string         `json:"labelFormat,omitempty"`
	Confirmation string         `json:"confirmation,omitempty"`
}

// LabelResponse is the response of label creation and label reprint.
type LabelResponse struct {
	HTTPStatus     int     `json:"-"`
	ShipmentID     int64   `json:"shipmentId"`
	TrackingNumber string  `json:"trackingNumber"`
	ShipmentCost   float64 `json:"shipmentCost"`
	LabelURL       string  `json:"labelUrl"`
}

// TrackingEvent is one tracking event.
type TrackingEvent struct {
	StatusCode  string `json:"statusCode"`
	Description string `json:"description"`
	City        string `json:"city"`
	State       string `json:"state"`
	OccurredAt  string `json:"occurredAt"` // RFC3339
}

// TrackingResponse is the response of GET /shipments/tracking.
type TrackingResponse struct {
	HTTPStatus     int             `json:"-"`
	TrackingNumber string          `json:"trackingNumber"`
	StatusCode     string          `json:"statusCode"`
	Events         []TrackingEvent `json:"events"`
}

// AddressRequest is the body of POST /addresses/validate.
type AddressRequest struct {
	Address Address `json:"address"`
}

// AddressResponse is the response of POST /addresses/validate.
type AddressResponse struct {
	HTTPStatus int      `json:"-"`
	Valid      bool     `json:"valid"`
	Messages   []string `json:"messages,omitempty"`
	Matched    *Address `json:"matchedAddress,omitempty"`
}

// APIError represents an error from the market aggregator API.
type APIError struct {
	HTTPStatus  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s: %s", e.HTTPStatus, e.Code, e.Description)
}

// CarrierCode returns the aggregator error code.
func (e *APIError) CarrierCode() string {
	return e.Code
}

// Unwrap maps the error onto the shipper sentinel it represents.
func (e *APIError) Unwrap() error {
	switch e.HTTPStatus {
	case http.StatusTooManyRequests:
		return shipper.ErrRateLimitExceeded
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return shipper.ErrServiceUnavailable
	case http.StatusUnauthorized, http.StatusForbidden:
		return shipper.ErrAuthenticationFailed
	}
	return nil
}

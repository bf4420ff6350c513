package discount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tournevent/shiprouter/pkg/shipper"
)

// APIClient defines the interface for discount carrier API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// CreateOrder books a shipment and allocates a tracking number
	CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)

	// GetTracking retrieves the tracking history for a tracking number
	GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error)

	// PrintLabels retrieves label references for a batch of tracking numbers
	PrintLabels(ctx context.Context, req *LabelRequest) (*LabelResponse, error)

	// CheckCoverage reports whether a destination postal code is serviceable
	CheckCoverage(ctx context.Context, req *CoverageRequest) (*CoverageResponse, error)

	// ValidateAddress validates a recipient address
	ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error)
}

// Response codes returned in the envelope.
const (
	CodeSuccess                  = 0
	CodeInvalidAddress           = 1004
	CodePOBoxNotSupported        = 1010
	CodeNotServiceable           = 1021
	CodeTrackingNumberAllocating = 1032
)

// codeErrors maps envelope codes onto shipper sentinels.
var codeErrors = map[int]error{
	CodeInvalidAddress:           shipper.ErrInvalidAddress,
	CodePOBoxNotSupported:        shipper.ErrPOBoxNotSupported,
	CodeNotServiceable:           shipper.ErrCoverageNotAvailable,
	CodeTrackingNumberAllocating: shipper.ErrTrackingNumberPending,
}

// messageErrors maps message fragments onto shipper sentinels for codes the
// carrier reuses across failures. Fragments are matched lowercased and in
// order.
var messageErrors = []struct {
	fragment string
	err      error
}{
	{"tracking number allocation", shipper.ErrTrackingNumberPending},
	{"单号分配", shipper.ErrTrackingNumberPending},
	{"po box", shipper.ErrPOBoxNotSupported},
	{"p.o. box", shipper.ErrPOBoxNotSupported},
	{"邮政信箱", shipper.ErrPOBoxNotSupported},
	{"not serviceable", shipper.ErrCoverageNotAvailable},
	{"out of service area", shipper.ErrCoverageNotAvailable},
	{"不在服务范围", shipper.ErrCoverageNotAvailable},
	{"invalid address", shipper.ErrInvalidAddress},
	{"address format", shipper.ErrInvalidAddress},
	{"地址格式", shipper.ErrInvalidAddress},
}

// sentinelFor returns the shipper sentinel for an envelope failure, or nil
// when the code and message are not recognized.
func sentinelFor(code int, message string) error {
	if code == CodeSuccess {
		return nil
	}
	if err, ok := codeErrors[code]; ok {
		return err
	}
	msg := strings.ToLower(message)
	for _, m := range messageErrors {
		if strings.Contains(msg, m.fragment) {
			return m.err
		}
	}
	return nil
}

// envelopeError returns an *APIError for a failed envelope whose failure
// maps onto a shipper sentinel. Unrecognized failures are left to the
// caller's success predicate.
func envelopeError(env Envelope) error {
	if sentinelFor(env.Code, env.Message) == nil {
		return nil
	}
	return &APIError{Code: env.Code, Message: env.Message}
}

// ============================================================================
// API Request/Response Types (JSON envelope {code, message, data})
// ============================================================================

// Envelope is the common response wrapper. code 0 is success; any other
// code is a carrier-side failure even when the HTTP status is 200.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Party is a sender or receiver.
type Party struct {
	Name        string `json:"name"`
	Company     string `json:"company,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Street1     string `json:"street1"`
	Street2     string `json:"street2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	Residential bool   `json:"residential,omitempty"`
}

// Parcel carries metric package measurements.
type Parcel struct {
	WeightKG float64 `json:"weight_kg"`
	LengthCM float64 `json:"length_cm"`
	WidthCM  float64 `json:"width_cm"`
	HeightCM float64 `json:"height_cm"`
}

// OrderRequest is the body of POST /orders.
type OrderRequest struct {
	ReferenceNumber string `json:"reference_number"` // idempotency key, max 64 chars
	ServiceCode     string `json:"service_code,omitempty"`
	Sender          Party  `json:"sender"`
	Receiver        Party  `json:"receiver"`
	Parcel          Parcel `json:"parcel"`
}

// OrderData is the payload of a successful order.
type OrderData struct {
	OrderID         string  `json:"order_id"`
	ReferenceNumber string  `json:"reference_number"`
	TrackingNumber  string  `json:"tracking_number"`
	LabelURL        string  `json:"label_url,omitempty"`
	Fee             float64 `json:"fee,omitempty"`
	Currency        string  `json:"currency,omitempty"`
}

// OrderResponse is the response of POST /orders.
type OrderResponse struct {
	Envelope
	Data *OrderData `json:"data,omitempty"`
}

// TrackingNode is one tracking event.
type TrackingNode struct {
	StatusCode  string `json:"status_code"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Time        string `json:"time"` // RFC3339
}

// TrackingData is the payload of a tracking lookup.
type TrackingData struct {
	TrackingNumber string         `json:"tracking_number"`
	Nodes          []TrackingNode `json:"nodes"`
}

// TrackingResponse is the response of GET /tracking/{number}.
type TrackingResponse struct {
	Envelope
	Data *TrackingData `json:"data,omitempty"`
}

// LabelRequest is the body of POST /labels/print.
type LabelRequest struct {
	TrackingNumbers []string `json:"tracking_numbers"`
	Format          string   `json:"format,omitempty"`
}

// LabelItem is one printed label reference.
type LabelItem struct {
	TrackingNumber string `json:"tracking_number"`
	URL            string `json:"url"`
}

// LabelResponse is the response of POST /labels/print.
type LabelResponse struct {
	Envelope
	Data []LabelItem `json:"data,omitempty"`
}

// CoverageRequest is the body of POST /coverage.
type CoverageRequest struct {
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	WeightKG   float64 `json:"weight_kg"`
}

// CoverageData is the payload of a coverage check.
type CoverageData struct {
	Serviceable bool   `json:"serviceable"`
	Reason      string `json:"reason,omitempty"`
}

// CoverageResponse is the response of POST /coverage.
type CoverageResponse struct {
	Envelope
	Data *CoverageData `json:"data,omitempty"`
}

// AddressRequest is the body of POST /address/validate.
type AddressRequest struct {
	Address Party `json:"address"`
}

// AddressData is the payload of an address validation.
type AddressData struct {
	Valid    bool     `json:"valid"`
	Messages []string `json:"messages,omitempty"`
}

// AddressResponse is the response of POST /address/validate.
type AddressResponse struct {
	Envelope
	Data *AddressData `json:"data,omitempty"`
}

// APIError represents an error from the discount carrier API.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("HTTP %d: code %d: %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// CarrierCode returns the raw envelope code.
func (e *APIError) CarrierCode() string {
	return strconv.Itoa(e.Code)
}

// Unwrap maps the error onto the shipper sentinel it represents.
func (e *APIError) Unwrap() error {
	if err := sentinelFor(e.Code, e.Message); err != nil {
		return err
	}
	switch {
	case e.HTTPStatus == http.StatusTooManyRequests:
		return shipper.ErrRateLimitExceeded
	case e.HTTPStatus == http.StatusServiceUnavailable, e.HTTPStatus == http.StatusBadGateway:
		return shipper.ErrServiceUnavailable
	case e.HTTPStatus == http.StatusUnauthorized, e.HTTPStatus == http.StatusForbidden:
		return shipper.ErrAuthenticationFailed
	}
	return nil
}

// IsAllocationPending reports whether err is the transient tracking number
// allocation failure.
func IsAllocationPending(err error) bool {
	return errors.Is(err, shipper.ErrTrackingNumberPending)
}

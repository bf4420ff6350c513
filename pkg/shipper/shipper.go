// Package shipper provides an abstraction layer for shipping carriers.
package shipper

import (
	"context"
)

// Shipper defines the contract every carrier adapter must implement.
type Shipper interface {
	// Name returns the carrier identifier (e.g., "discount", "market").
	Name() string

	// DisplayName returns the human-readable carrier name.
	DisplayName() string

	// CreateShipment books a shipment with the carrier and allocates a tracking number.
	CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*ShipmentResult, error)

	// TrackShipment returns the carrier's tracking history for a tracking number.
	TrackShipment(ctx context.Context, trackingNumber string) (*TrackingResult, error)

	// PrintLabel retrieves label references for one or more tracking numbers.
	PrintLabel(ctx context.Context, trackingNumbers []string) (*LabelResult, error)

	// IsSuccessfulResponse reports whether a carrier response envelope
	// represents success. Carriers that answer HTTP 200 with an error code
	// in the body are caught here.
	IsSuccessfulResponse(resp Response) bool
}

// QuoteProvider is implemented by carriers that return live rate quotes.
type QuoteProvider interface {
	Shipper
	GetQuotes(ctx context.Context, req *RateQuoteRequest) ([]RateQuote, error)
}

// FallbackQuoter is implemented by carriers that can offer conservative
// typical rates when their live quoting fails.
type FallbackQuoter interface {
	FallbackQuotes(req *RateQuoteRequest) []RateQuote
}

// AddressValidator is implemented by carriers with an address validation endpoint.
type AddressValidator interface {
	ValidateAddress(ctx context.Context, addr Address) (*AddressValidationResult, error)
}

// CoverageChecker is implemented by carriers that can check serviceability.
type CoverageChecker interface {
	CheckCoverage(ctx context.Context, addr Address, pkg PackageSpec) (*CoverageResult, error)
}

package shipper

import (
	"time"
)

// ServiceLevel represents the requested shipping service level.
type ServiceLevel string

const (
	ServiceStandard ServiceLevel = "standard"
	ServiceExpress  ServiceLevel = "express"
	ServiceEconomy  ServiceLevel = "economy"
)

// WeightUnit represents weight measurement unit.
type WeightUnit string

const (
	WeightOZ WeightUnit = "oz"
	WeightLB WeightUnit = "lb"
	WeightG  WeightUnit = "g"
	WeightKG WeightUnit = "kg"
)

// DimensionUnit represents dimension measurement unit.
type DimensionUnit string

const (
	DimensionIN DimensionUnit = "in"
	DimensionCM DimensionUnit = "cm"
)

// QuoteSource tells whether a quote came from a live carrier call.
type QuoteSource string

const (
	QuoteLive     QuoteSource = "live"
	QuoteTable    QuoteSource = "rate_table"
	QuoteFallback QuoteSource = "fallback"
)

// Address represents a shipping address.
type Address struct {
	Name          string `json:"name"`
	Company       string `json:"company,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	Region        string `json:"region"` // state or province code, e.g. "CA", "ON"
	PostalCode    string `json:"postal_code"`
	CountryCode   string `json:"country_code"` // ISO 3166-1 alpha-2
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	IsResidential *bool  `json:"is_residential,omitempty"`
}

// Weight is a value with an explicit unit.
type Weight struct {
	Value float64    `json:"value"`
	Unit  WeightUnit `json:"unit"`
}

// Dimensions are package dimensions with an explicit unit.
type Dimensions struct {
	Length float64       `json:"length"`
	Width  float64       `json:"width"`
	Height float64       `json:"height"`
	Unit   DimensionUnit `json:"unit"`
}

// PackageSpec describes the physical package being shipped.
type PackageSpec struct {
	Weight     Weight     `json:"weight"`
	Dimensions Dimensions `json:"dimensions"`
}

// Money represents a monetary amount.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// DeliveryDays is a delivery estimate in business days. Min equals Max for
// a single-day estimate.
type DeliveryDays struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// RateQuote is a normalized carrier quote. Quotes are values and are never
// mutated after they are produced.
type RateQuote struct {
	Carrier      string       `json:"carrier"`
	CarrierName  string       `json:"carrier_name"`
	ServiceCode  string       `json:"service_code"`
	ServiceName  string       `json:"service_name"`
	Cost         Money        `json:"cost"`
	DeliveryDays DeliveryDays `json:"delivery_days"`
	Zone         *int         `json:"zone,omitempty"`
	Source       QuoteSource  `json:"source"`
}

// RateQuoteRequest is the input for fetching quotes.
type RateQuoteRequest struct {
	Origin       Address      `json:"origin"`
	Destination  Address      `json:"destination"`
	Package      PackageSpec  `json:"package"`
	ServiceLevel ServiceLevel `json:"service_level,omitempty"`
}

// LineItem is one line of an order.
type LineItem struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name,omitempty"`
	Quantity int     `json:"quantity"`
	Weight   *Weight `json:"weight,omitempty"` // per unit
}

// OrderData is the normalized order handed to the routing core.
type OrderData struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id,omitempty"`
	Reference      string       `json:"reference"`
	Origin         Address      `json:"origin"`
	Destination    Address      `json:"destination"`
	Items          []LineItem   `json:"items"`
	Dimensions     *Dimensions  `json:"dimensions,omitempty"`
	ServiceLevel   ServiceLevel `json:"service_level,omitempty"`
}

// CreateShipmentRequest is the request for booking a shipment.
type CreateShipmentRequest struct {
	OrderID     string      `json:"order_id"`
	Reference   string      `json:"reference"` // idempotency key, unique per attempt
	ServiceCode string      `json:"service_code,omitempty"`
	Origin      Address     `json:"origin"`
	Destination Address     `json:"destination"`
	Package     PackageSpec `json:"package"`
}

// Response carries the envelope fields of a carrier response.
type Response struct {
	HTTPStatus int    `json:"http_status,omitempty"`
	Code       int    `json:"code"`
	Message    string `json:"message,omitempty"`
}

// ShipmentResult is the result of creating a shipment.
type ShipmentResult struct {
	Response
	Carrier        string `json:"carrier"`
	ShipmentID     string `json:"shipment_id"`
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url,omitempty"`
	ServiceCode    string `json:"service_code,omitempty"`
	Charged        *Money `json:"charged,omitempty"`
}

// CarrierEvent is a raw tracking event as reported by a carrier.
type CarrierEvent struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
}

// TrackingResult is the result of a tracking lookup.
type TrackingResult struct {
	Response
	TrackingNumber string         `json:"tracking_number"`
	Events         []CarrierEvent `json:"events"`
}

// LabelResult is the result of a label lookup.
type LabelResult struct {
	Response
	Labels map[string]string `json:"labels"` // tracking number -> label reference
}

// AddressValidationResult is a carrier's verdict on an address.
type AddressValidationResult struct {
	Response
	Valid     bool     `json:"valid"`
	Messages  []string `json:"messages,omitempty"`
	Suggested *Address `json:"suggested,omitempty"`
}

// CoverageResult reports whether a carrier serves a destination.
type CoverageResult struct {
	Response
	Covered bool   `json:"covered"`
	Reason  string `json:"reason,omitempty"`
}

// ShipmentRecord is emitted once a shipment has been created.
type ShipmentRecord struct {
	OrderID        string         `json:"order_id"`
	Reference      string         `json:"reference"`
	Carrier        string         `json:"carrier"`
	ServiceCode    string         `json:"service_code,omitempty"`
	ShipmentID     string         `json:"shipment_id"`
	TrackingNumber string         `json:"tracking_number"`
	LabelRef       string         `json:"label_ref,omitempty"`
	Status         TrackingStatus `json:"status"`
	Package        PackageSpec    `json:"package"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TrackingEvent is a carrier-agnostic tracking event.
type TrackingEvent struct {
	TrackingNumber string         `json:"tracking_number"`
	Carrier        string         `json:"carrier"`
	Status         TrackingStatus `json:"status"`
	Description    string         `json:"description"`
	Location       string         `json:"location"`
	Timestamp      time.Time      `json:"timestamp"`
	RawCode        string         `json:"raw_code"`
}

// WebhookInput is a raw tracking update delivered by a carrier webhook.
type WebhookInput struct {
	TrackingNumber string `json:"tracking_number"`
	StatusCode     string `json:"status_code"`
	Description    string `json:"description"`
	Location       string `json:"location"`
	Timestamp      string `json:"timestamp"`
}

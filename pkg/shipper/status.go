package shipper

import (
	"strings"
	"sync"
)

// TrackingStatus is the carrier-agnostic shipment status vocabulary.
type TrackingStatus string

const (
	StatusLabelCreated      TrackingStatus = "label_created"
	StatusPickedUp          TrackingStatus = "picked_up"
	StatusInTransit         TrackingStatus = "in_transit"
	StatusOutForDelivery    TrackingStatus = "out_for_delivery"
	StatusDelivered         TrackingStatus = "delivered"
	StatusDeliveryAttempted TrackingStatus = "delivery_attempted"
	StatusException         TrackingStatus = "exception"
	StatusReturned          TrackingStatus = "returned"
	StatusCancelled         TrackingStatus = "cancelled"
)

// AllStatuses lists every TrackingStatus.
var AllStatuses = []TrackingStatus{
	StatusLabelCreated,
	StatusPickedUp,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
	StatusDeliveryAttempted,
	StatusException,
	StatusReturned,
	StatusCancelled,
}

// IsDelivered reports whether the shipment reached its recipient.
func IsDelivered(s TrackingStatus) bool {
	return s == StatusDelivered
}

// IsActive reports whether the shipment is moving through the network.
func IsActive(s TrackingStatus) bool {
	switch s {
	case StatusPickedUp, StatusInTransit, StatusOutForDelivery, StatusDeliveryAttempted:
		return true
	}
	return false
}

// IsProblem reports whether the status needs merchant attention.
func IsProblem(s TrackingStatus) bool {
	return s == StatusException || s == StatusDeliveryAttempted
}

// IsFinal reports whether no further status change is expected.
func IsFinal(s TrackingStatus) bool {
	switch s {
	case StatusDelivered, StatusReturned, StatusCancelled:
		return true
	}
	return false
}

// StatusMapping is one raw carrier code translated to a TrackingStatus.
type StatusMapping struct {
	Status      TrackingStatus
	Description string
}

// Carrier names used by the built-in status tables.
const (
	CarrierDiscount = "discount"
	CarrierMarket   = "market"
)

// StatusMapper translates raw carrier status codes into TrackingStatus values.
// It is safe for concurrent use.
type StatusMapper struct {
	tables map[string]map[string]StatusMapping
	mu     sync.RWMutex
}

// NewStatusMapper returns a mapper preloaded with the built-in carrier tables.
func NewStatusMapper() *StatusMapper {
	m := &StatusMapper{tables: make(map[string]map[string]StatusMapping)}

	m.Register(CarrierDiscount, "CREATED", StatusLabelCreated, "Shipment information received")
	m.Register(CarrierDiscount, "PICKUP", StatusPickedUp, "Picked up by carrier")
	m.Register(CarrierDiscount, "TRANSIT", StatusInTransit, "In transit")
	m.Register(CarrierDiscount, "DELIVERING", StatusOutForDelivery, "Out for delivery")
	m.Register(CarrierDiscount, "SIGNED", StatusDelivered, "Delivered")
	m.Register(CarrierDiscount, "FAILED_ATTEMPT", StatusDeliveryAttempted, "Delivery attempted")
	m.Register(CarrierDiscount, "EXCEPTION", StatusException, "Delivery exception")
	m.Register(CarrierDiscount, "RETURNED", StatusReturned, "Returned to sender")
	m.Register(CarrierDiscount, "CANCELLED", StatusCancelled, "Shipment cancelled")

	m.Register(CarrierMarket, "NY", StatusLabelCreated, "Label created, not yet in system")
	m.Register(CarrierMarket, "AC", StatusPickedUp, "Accepted by carrier")
	m.Register(CarrierMarket, "IT", StatusInTransit, "In transit")
	m.Register(CarrierMarket, "OD", StatusOutForDelivery, "Out for delivery")
	m.Register(CarrierMarket, "DE", StatusDelivered, "Delivered")
	m.Register(CarrierMarket, "EX", StatusException, "Delivery exception")
	m.Register(CarrierMarket, "AT", StatusDeliveryAttempted, "Delivery attempted")
	m.Register(CarrierMarket, "RS", StatusReturned, "Returned to sender")
	m.Register(CarrierMarket, "UN", StatusInTransit, "Status unknown")

	return m
}

// Register adds or replaces a mapping for a carrier code. Codes are matched
// case-insensitively.
func (m *StatusMapper) Register(carrier, code string, status TrackingStatus, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.tables[carrier]
	if !ok {
		table = make(map[string]StatusMapping)
		m.tables[carrier] = table
	}
	table[strings.ToUpper(code)] = StatusMapping{Status: status, Description: description}
}

// Map returns the TrackingStatus for a raw carrier code. Unknown carriers and
// unknown codes map to in_transit.
func (m *StatusMapper) Map(carrier, code string) TrackingStatus {
	mapping, ok := m.lookup(carrier, code)
	if !ok {
		return StatusInTransit
	}
	return mapping.Status
}

// Describe returns the description for a raw carrier code, or fallback when
// the code is unknown.
func (m *StatusMapper) Describe(carrier, code, fallback string) string {
	mapping, ok := m.lookup(carrier, code)
	if !ok || mapping.Description == "" {
		return fallback
	}
	return mapping.Description
}

// Known reports whether the code has an explicit mapping.
func (m *StatusMapper) Known(carrier, code string) bool {
	_, ok := m.lookup(carrier, code)
	return ok
}

func (m *StatusMapper) lookup(carrier, code string) (StatusMapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table, ok := m.tables[carrier]
	if !ok {
		return StatusMapping{}, false
	}
	mapping, ok := table[strings.ToUpper(strings.TrimSpace(code))]
	return mapping, ok
}

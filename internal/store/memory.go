// Package store persists audit entries, routing decisions, shipments,
// tracking events and retry jobs, in memory or in PostgreSQL.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tournevent/shiprouter/internal/resilience"
	"github.com/tournevent/shiprouter/internal/routing"
	"github.com/tournevent/shiprouter/pkg/shipper"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

type eventKey struct {
	carrier, trackingNumber, rawCode string
	at                               int64
}

// MemoryStore keeps every record in process memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	audit     []resilience.AuditEntry
	decisions map[string][]routing.Decision
	shipments map[string]shipper.ShipmentRecord
	events    map[string][]shipper.TrackingEvent
	seen      map[eventKey]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions: make(map[string][]routing.Decision),
		shipments: make(map[string]shipper.ShipmentRecord),
		events:    make(map[string][]shipper.TrackingEvent),
		seen:      make(map[eventKey]bool),
	}
}

// WriteAudit appends an audit entry.
func (s *MemoryStore) WriteAudit(_ context.Context, entry resilience.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns audit entries for a resource ID, oldest first. An
// empty resourceID returns every entry.
func (s *MemoryStore) AuditEntries(_ context.Context, resourceID string) ([]resilience.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []resilience.AuditEntry
	for _, e := range s.audit {
		if resourceID == "" || e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SaveDecision records a routing decision. Earlier decisions for the same
// order are kept.
func (s *MemoryStore) SaveDecision(_ context.Context, d routing.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.FallbackCarriers = append([]string(nil), d.FallbackCarriers...)
	s.decisions[d.OrderID] = append(s.decisions[d.OrderID], d)
	return nil
}

// Decision returns the latest decision for an order.
func (s *MemoryStore) Decision(_ context.Context, orderID string) (routing.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds := s.decisions[orderID]
	if len(ds) == 0 {
		return routing.Decision{}, ErrNotFound
	}
	return ds[len(ds)-1], nil
}

// SaveShipment inserts or replaces the shipment for an order.
func (s *MemoryStore) SaveShipment(_ context.Context, rec shipper.ShipmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments[rec.OrderID] = rec
	return nil
}

// Shipment returns the shipment for an order.
func (s *MemoryStore) Shipment(_ context.Context, orderID string) (shipper.ShipmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.shipments[orderID]
	if !ok {
		return shipper.ShipmentRecord{}, ErrNotFound
	}
	return rec, nil
}

// UpdateShipmentStatus sets the status of the shipment with the given
// tracking number.
func (s *MemoryStore) UpdateShipmentStatus(_ context.Context, carrier, trackingNumber string, status shipper.TrackingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.shipments {
		if rec.Carrier == carrier && rec.TrackingNumber == trackingNumber {
			rec.Status = status
			s.shipments[id] = rec
			return nil
		}
	}
	return ErrNotFound
}

// AppendEvents stores events not seen before and returns how many were new.
// Events are identified by carrier, tracking number, raw code and timestamp.
func (s *MemoryStore) AppendEvents(_ context.Context, events []shipper.TrackingEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, e := range events {
		k := eventKey{e.Carrier, e.TrackingNumber, e.RawCode, e.Timestamp.UnixNano()}
		if s.seen[k] {
			continue
		}
		s.seen[k] = true
		key := e.Carrier + "/" + e.TrackingNumber
		s.events[key] = append(s.events[key], e)
		added++
	}
	return added, nil
}

// Events returns the stored events of one shipment, newest first.
func (s *MemoryStore) Events(_ context.Context, carrier, trackingNumber string) ([]shipper.TrackingEvent, error) {
	s.mu.RLock()
	out := append([]shipper.TrackingEvent(nil), s.events[carrier+"/"+trackingNumber]...)
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(events []shipper.TrackingEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

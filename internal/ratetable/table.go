// Package ratetable holds the customer rate table of the discount carrier:
// zone x weight breakpoint -> price.
package ratetable

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tournevent/shiprouter/pkg/shipper"
)

// Zone bounds.
const (
	PickupZone  = 0
	MaxZone     = 8
	UnknownZone = -1
)

// ErrInvalidTable is returned when a rate table fails validation.
var ErrInvalidTable = errors.New("invalid rate table")

// DefaultBreakpoints are the weight breakpoints in pounds.
var DefaultBreakpoints = []float64{0.25, 0.44, 0.625, 1, 1.65, 2.2, 3.3, 4.4, 5.5, 6.6, 8.8, 11, 13.2, 15.4, 17.6, 19.8}

// defaultPrices are USD prices per zone, aligned with DefaultBreakpoints.
// Zone 0 is pickup-only and stops at 2.2 lb.
var defaultPrices = map[int][]float64{
	0: {2.10, 2.25, 2.40, 2.70, 3.20, 3.60},
	1: {2.60, 2.80, 3.00, 3.40, 4.10, 4.70, 5.90, 6.80, 7.70, 8.60, 10.30, 12.10, 13.90, 15.60, 17.40, 19.10},
	2: {2.70, 2.92, 3.12, 3.55, 4.30, 4.95, 6.25, 7.25, 8.25, 9.25, 11.10, 13.05, 15.00, 16.85, 18.80, 20.65},
	3: {2.80, 3.04, 3.25, 3.70, 4.50, 5.20, 6.60, 7.70, 8.80, 9.90, 11.90, 14.00, 16.10, 18.10, 20.20, 22.20},
	4: {2.90, 3.16, 3.38, 3.85, 4.70, 5.45, 6.95, 8.15, 9.35, 10.55, 12.70, 14.95, 17.20, 19.35, 21.60, 23.75},
	5: {3.00, 3.28, 3.50, 4.00, 4.90, 5.70, 7.30, 8.60, 9.90, 11.20, 13.50, 15.90, 18.30, 20.60, 23.00, 25.30},
	6: {3.10, 3.40, 3.62, 4.15, 5.10, 5.95, 7.65, 9.05, 10.45, 11.85, 14.30, 16.85, 19.40, 21.85, 24.40, 26.85},
	7: {3.20, 3.52, 3.75, 4.30, 5.30, 6.20, 8.00, 9.50, 11.00, 12.50, 15.10, 17.80, 20.50, 23.10, 25.80, 28.40},
	8: {3.30, 3.64, 3.88, 4.45, 5.50, 6.45, 8.35, 9.95, 11.55, 13.15, 15.90, 18.75, 21.60, 24.35, 27.20, 29.95},
}

// Table maps (zone, weight) to a price.
//
// A zone row may be shorter than Breakpoints. Weights beyond the last
// breakpoint a row covers are not quotable when the row is short, and are
// charged the highest price when the row is complete.
type Table struct {
	Currency    string            `yaml:"currency"`
	Breakpoints []float64         `yaml:"breakpoints_lb"`
	Zones       map[int][]float64 `yaml:"zones"`
}

// Default returns the built-in customer rate table.
func Default() *Table {
	zones := make(map[int][]float64, len(defaultPrices))
	for z, prices := range defaultPrices {
		zones[z] = append([]float64(nil), prices...)
	}
	return &Table{
		Currency:    "USD",
		Breakpoints: append([]float64(nil), DefaultBreakpoints...),
		Zones:       zones,
	}
}

// LoadFile reads and validates a YAML rate table.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rate table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if t.Currency == "" {
		t.Currency = "USD"
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks that breakpoints ascend strictly, zones are within
// 0..8, and prices are positive and non-decreasing within each zone.
func (t *Table) Validate() error {
	if len(t.Breakpoints) == 0 {
		return fmt.Errorf("%w: no breakpoints", ErrInvalidTable)
	}
	for i, bp := range t.Breakpoints {
		if bp <= 0 {
			return fmt.Errorf("%w: breakpoint %d must be positive", ErrInvalidTable, i)
		}
		if i > 0 && bp <= t.Breakpoints[i-1] {
			return fmt.Errorf("%w: breakpoints must ascend (%.3f after %.3f)", ErrInvalidTable, bp, t.Breakpoints[i-1])
		}
	}
	if len(t.Zones) == 0 {
		return fmt.Errorf("%w: no zones", ErrInvalidTable)
	}
	for zone, prices := range t.Zones {
		if zone < PickupZone || zone > MaxZone {
			return fmt.Errorf("%w: zone %d out of range", ErrInvalidTable, zone)
		}
		if len(prices) == 0 || len(prices) > len(t.Breakpoints) {
			return fmt.Errorf("%w: zone %d has %d prices for %d breakpoints", ErrInvalidTable, zone, len(prices), len(t.Breakpoints))
		}
		for i, p := range prices {
			if p <= 0 {
				return fmt.Errorf("%w: zone %d price %d must be positive", ErrInvalidTable, zone, i)
			}
			if i > 0 && p < prices[i-1] {
				return fmt.Errorf("%w: zone %d prices decrease at breakpoint %.3f", ErrInvalidTable, zone, t.Breakpoints[i])
			}
		}
	}
	return nil
}

// Lookup returns the price for a zone and a weight in kilograms, or nil
// when the combination is not quotable. It never returns a zero price.
func (t *Table) Lookup(zone int, kg float64) *float64 {
	if kg <= 0 {
		return nil
	}
	prices, ok := t.Zones[zone]
	if !ok || len(prices) == 0 {
		return nil
	}

	lb := kg * shipper.PoundsPerKilogram
	covered := t.Breakpoints[:len(prices)]
	i := sort.SearchFloat64s(covered, lb)
	if i == len(covered) {
		if len(prices) < len(t.Breakpoints) {
			return nil
		}
		i = len(prices) - 1
	}

	price := prices[i]
	return &price
}

// ZoneNumbers returns the zones present in the table in ascending order.
func (t *Table) ZoneNumbers() []int {
	zones := make([]int, 0, len(t.Zones))
	for z := range t.Zones {
		zones = append(zones, z)
	}
	sort.Ints(zones)
	return zones
}

// DestinationZone derives a coarse zone from the leading digit of the
// destination postal code, clamped to 1..MaxZone. Zone 0 is never returned
// since pickup needs a known origin. A postal code that does not start with
// a digit yields UnknownZone.
func DestinationZone(destPostal string) int {
	d := normalizePostal(destPostal)
	if d == "" || !isDigit(d[0]) {
		return UnknownZone
	}
	zone := int(d[0] - '0')
	if zone < 1 {
		zone = 1
	}
	if zone > MaxZone {
		zone = MaxZone
	}
	return zone
}

// Zone derives a coarse zone from origin and destination postal codes.
// Identical postal codes are pickup (zone 0). Otherwise the zone is one
// plus the distance between leading digits, capped at 8. A postal code
// that does not start with a digit yields UnknownZone.
func Zone(originPostal, destPostal string) int {
	o := normalizePostal(originPostal)
	d := normalizePostal(destPostal)
	if o == "" || d == "" || !isDigit(o[0]) || !isDigit(d[0]) {
		return UnknownZone
	}
	if prefix5(o) == prefix5(d) {
		return PickupZone
	}

	diff := int(d[0]) - int(o[0])
	if diff < 0 {
		diff = -diff
	}
	zone := 1 + diff
	if zone > MaxZone {
		zone = MaxZone
	}
	return zone
}

func normalizePostal(pc string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pc), " ", ""))
}

func prefix5(pc string) string {
	if len(pc) > 5 {
		return pc[:5]
	}
	return pc
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Package eligibility decides whether an order can ship with the discount
// carrier at all. Checks are pure functions of the order and the caps.
package eligibility

import (
	"fmt"
	"sort"

	"github.com/tournevent/shiprouter/internal/ratetable"
	"github.com/tournevent/shiprouter/pkg/shipper"
)

// Box tiers used when an order carries no explicit dimensions.
var (
	SmallBox  = shipper.Dimensions{Length: 8, Width: 6, Height: 4, Unit: shipper.DimensionIN}
	MediumBox = shipper.Dimensions{Length: 12, Width: 10, Height: 6, Unit: shipper.DimensionIN}
	LargeBox  = shipper.Dimensions{Length: 16, Width: 12, Height: 10, Unit: shipper.DimensionIN}
)

// Config holds the discount carrier caps.
type Config struct {
	MaxWeightLb       float64
	MaxLengthIn       float64
	MaxWidthIn        float64
	MaxHeightIn       float64
	MaxZone           int
	FallbackWeightOz  float64
	DefaultOriginPost string // opts into origin-distance zones when set
}

// DefaultConfig returns the standard caps: 20 lb, 24x18x18 in, zone 6,
// 8 oz fallback weight.
func DefaultConfig() Config {
	return Config{
		MaxWeightLb:      20,
		MaxLengthIn:      24,
		MaxWidthIn:       18,
		MaxHeightIn:      18,
		MaxZone:          6,
		FallbackWeightOz: 8,
	}
}

// Result is the verdict for one order.
type Result struct {
	Eligible   bool               `json:"eligible"`
	Reasons    []string           `json:"reasons,omitempty"`
	WeightOz   float64            `json:"weight_oz"`
	Dimensions shipper.Dimensions `json:"dimensions"`
	Zone       int                `json:"zone"`
}

// Package returns the package spec the verdict was computed for.
func (r Result) Package() shipper.PackageSpec {
	return shipper.PackageSpec{
		Weight:     shipper.Weight{Value: r.WeightOz, Unit: shipper.WeightOZ},
		Dimensions: r.Dimensions,
	}
}

// Checker evaluates orders against the caps.
type Checker struct {
	config Config
}

// New creates a Checker. Zero-valued caps are replaced by defaults.
func New(cfg Config) *Checker {
	def := DefaultConfig()
	if cfg.MaxWeightLb <= 0 {
		cfg.MaxWeightLb = def.MaxWeightLb
	}
	if cfg.MaxLengthIn <= 0 {
		cfg.MaxLengthIn = def.MaxLengthIn
	}
	if cfg.MaxWidthIn <= 0 {
		cfg.MaxWidthIn = def.MaxWidthIn
	}
	if cfg.MaxHeightIn <= 0 {
		cfg.MaxHeightIn = def.MaxHeightIn
	}
	if cfg.MaxZone <= 0 {
		cfg.MaxZone = def.MaxZone
	}
	if cfg.FallbackWeightOz <= 0 {
		cfg.FallbackWeightOz = def.FallbackWeightOz
	}
	return &Checker{config: cfg}
}

// Check evaluates an order. Every failing rule contributes a reason.
func (c *Checker) Check(order shipper.OrderData) Result {
	pkg := c.PackageFor(order)
	res := Result{
		WeightOz:   pkg.Weight.Value,
		Dimensions: pkg.Dimensions,
		Zone:       c.ZoneFor(order),
	}

	weightLb := res.WeightOz / shipper.OuncesPerPound
	if weightLb > c.config.MaxWeightLb {
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("weight %.2f lb exceeds maximum %.0f lb", weightLb, c.config.MaxWeightLb))
	}

	if exceedsDimensions(res.Dimensions, c.config) {
		d := res.Dimensions
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("dimensions %gx%gx%g in exceed maximum %gx%gx%g in",
				d.Length, d.Width, d.Height,
				c.config.MaxLengthIn, c.config.MaxWidthIn, c.config.MaxHeightIn))
	}

	switch {
	case res.Zone == ratetable.UnknownZone:
		res.Reasons = append(res.Reasons, "destination zone could not be determined")
	case res.Zone > c.config.MaxZone:
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("zone %d exceeds maximum zone %d", res.Zone, c.config.MaxZone))
	}

	res.Eligible = len(res.Reasons) == 0
	return res
}

// ZoneFor derives the order's zone from the destination postal code's
// leading digit. With a configured origin the zone is the origin distance
// instead, using the order's own origin when it carries one.
func (c *Checker) ZoneFor(order shipper.OrderData) int {
	if c.config.DefaultOriginPost == "" {
		return ratetable.DestinationZone(order.Destination.PostalCode)
	}
	origin := order.Origin.PostalCode
	if origin == "" {
		origin = c.config.DefaultOriginPost
	}
	return ratetable.Zone(origin, order.Destination.PostalCode)
}

// PackageFor derives the package spec of an order: total item weight in
// ounces (fallback weight when no item carries one) and either the explicit
// dimensions in inches or a box tier estimated from the item count.
func (c *Checker) PackageFor(order shipper.OrderData) shipper.PackageSpec {
	return shipper.PackageSpec{
		Weight:     shipper.Weight{Value: c.totalWeightOz(order.Items), Unit: shipper.WeightOZ},
		Dimensions: estimateDimensions(order),
	}
}

func (c *Checker) totalWeightOz(items []shipper.LineItem) float64 {
	total := 0.0
	for _, item := range items {
		if item.Weight == nil {
			continue
		}
		oz, err := item.Weight.Ounces()
		if err != nil || oz <= 0 {
			continue
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		total += oz * float64(qty)
	}
	if total <= 0 {
		return c.config.FallbackWeightOz
	}
	return shipper.Round(total, 2)
}

func estimateDimensions(order shipper.OrderData) shipper.Dimensions {
	if order.Dimensions != nil {
		if in, err := order.Dimensions.Inches(); err == nil && in.Length > 0 && in.Width > 0 && in.Height > 0 {
			return in
		}
	}

	count := 0
	for _, item := range order.Items {
		if item.Quantity > 0 {
			count += item.Quantity
		} else {
			count++
		}
	}

	switch {
	case count <= 2:
		return SmallBox
	case count <= 5:
		return MediumBox
	default:
		return LargeBox
	}
}

// exceedsDimensions compares the sorted package sides against the sorted
// caps so orientation does not matter.
func exceedsDimensions(d shipper.Dimensions, cfg Config) bool {
	sides := []float64{d.Length, d.Width, d.Height}
	caps := []float64{cfg.MaxLengthIn, cfg.MaxWidthIn, cfg.MaxHeightIn}
	sort.Sort(sort.Reverse(sort.Float64Slice(sides)))
	sort.Sort(sort.Reverse(sort.Float64Slice(caps)))
	for i := range sides {
		if sides[i] > caps[i] {
			return true
		}
	}
	return false
}

package shipper

import (
	"fmt"
	"math"
)

// Conversion factors.
const (
	KilogramsPerOunce   = 0.028349523125
	PoundsPerKilogram   = 2.20462262185
	OuncesPerPound      = 16.0
	CentimetersPerInch  = 2.54
	gramsPerKilogram    = 1000.0
	weightDecimalPlaces = 3
	lengthDecimalPlaces = 2
)

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// OuncesToKilograms converts ounces to kilograms, rounded to 3 decimals.
func OuncesToKilograms(oz float64) float64 {
	return Round(oz*KilogramsPerOunce, weightDecimalPlaces)
}

// KilogramsToOunces converts kilograms to ounces, rounded to 2 decimals.
func KilogramsToOunces(kg float64) float64 {
	return Round(kg/KilogramsPerOunce, 2)
}

// KilogramsToPounds converts kilograms to pounds, rounded to 3 decimals.
func KilogramsToPounds(kg float64) float64 {
	return Round(kg*PoundsPerKilogram, weightDecimalPlaces)
}

// PoundsToKilograms converts pounds to kilograms, rounded to 3 decimals.
func PoundsToKilograms(lb float64) float64 {
	return Round(lb/PoundsPerKilogram, weightDecimalPlaces)
}

// InchesToCentimeters converts inches to centimeters, rounded to 2 decimals.
func InchesToCentimeters(in float64) float64 {
	return Round(in*CentimetersPerInch, lengthDecimalPlaces)
}

// CentimetersToInches converts centimeters to inches, rounded to 2 decimals.
func CentimetersToInches(cm float64) float64 {
	return Round(cm/CentimetersPerInch, lengthDecimalPlaces)
}

// Ounces returns the weight in ounces.
func (w Weight) Ounces() (float64, error) {
	switch w.Unit {
	case WeightOZ:
		return w.Value, nil
	case WeightLB:
		return w.Value * OuncesPerPound, nil
	case WeightKG:
		return KilogramsToOunces(w.Value), nil
	case WeightG:
		return KilogramsToOunces(w.Value / gramsPerKilogram), nil
	default:
		return 0, fmt.Errorf("%w: unknown weight unit %q", ErrInvalidPackage, w.Unit)
	}
}

// Kilograms returns the weight in kilograms, rounded to 3 decimals.
func (w Weight) Kilograms() (float64, error) {
	switch w.Unit {
	case WeightKG:
		return Round(w.Value, weightDecimalPlaces), nil
	case WeightG:
		return Round(w.Value/gramsPerKilogram, weightDecimalPlaces), nil
	case WeightOZ:
		return OuncesToKilograms(w.Value), nil
	case WeightLB:
		return PoundsToKilograms(w.Value), nil
	default:
		return 0, fmt.Errorf("%w: unknown weight unit %q", ErrInvalidPackage, w.Unit)
	}
}

// Inches returns the dimensions converted to inches.
func (d Dimensions) Inches() (Dimensions, error) {
	switch d.Unit {
	case DimensionIN:
		return d, nil
	case DimensionCM:
		return Dimensions{
			Length: CentimetersToInches(d.Length),
			Width:  CentimetersToInches(d.Width),
			Height: CentimetersToInches(d.Height),
			Unit:   DimensionIN,
		}, nil
	default:
		return Dimensions{}, fmt.Errorf("%w: unknown dimension unit %q", ErrInvalidPackage, d.Unit)
	}
}

// Centimeters returns the dimensions converted to centimeters.
func (d Dimensions) Centimeters() (Dimensions, error) {
	switch d.Unit {
	case DimensionCM:
		return d, nil
	case DimensionIN:
		return Dimensions{
			Length: InchesToCentimeters(d.Length),
			Width:  InchesToCentimeters(d.Width),
			Height: InchesToCentimeters(d.Height),
			Unit:   DimensionCM,
		}, nil
	default:
		return Dimensions{}, fmt.Errorf("%w: unknown dimension unit %q", ErrInvalidPackage, d.Unit)
	}
}

// Validate checks that weight and every dimension are strictly positive
// and that units are known.
func (p PackageSpec) Validate() error {
	if p.Weight.Value <= 0 {
		return fmt.Errorf("%w: weight must be positive", ErrInvalidPackage)
	}
	if _, err := p.Weight.Kilograms(); err != nil {
		return err
	}
	d := p.Dimensions
	if d.Length <= 0 || d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidPackage)
	}
	if _, err := d.Inches(); err != nil {
		return err
	}
	return nil
}

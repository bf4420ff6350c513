package ratetable_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprouter/internal/ratetable"
	"github.com/tournevent/shiprouter/pkg/shipper"
)

func lbToKg(lb float64) float64 {
	return lb / shipper.PoundsPerKilogram
}

func TestLookup_ZoneThreeNineOunces(t *testing.T) {
	table := ratetable.Default()

	price := table.Lookup(3, shipper.OuncesToKilograms(9))

	require.NotNil(t, price)
	assert.Equal(t, 3.25, *price)
}

func TestLookup_FirstBreakpointAtOrAboveWeight(t *testing.T) {
	table := ratetable.Default()

	below := table.Lookup(1, lbToKg(0.9))
	require.NotNil(t, below)
	assert.Equal(t, 3.40, *below)

	justAbove := table.Lookup(1, lbToKg(1.01))
	require.NotNil(t, justAbove)
	assert.Equal(t, 4.10, *justAbove)
}

func TestLookup_AboveHighestBreakpointUsesHighestPrice(t *testing.T) {
	table := ratetable.Default()

	price := table.Lookup(8, lbToKg(25))

	require.NotNil(t, price)
	assert.Equal(t, 29.95, *price)
}

func TestLookup_ZoneZeroTruncatesAbove2_2lb(t *testing.T) {
	table := ratetable.Default()

	within := table.Lookup(0, lbToKg(2.1))
	require.NotNil(t, within)
	assert.Equal(t, 3.60, *within)

	assert.Nil(t, table.Lookup(0, lbToKg(2.3)))
	assert.Nil(t, table.Lookup(0, lbToKg(10)))
}

func TestLookup_NotQuotable(t *testing.T) {
	table := ratetable.Default()

	assert.Nil(t, table.Lookup(9, 1), "missing zone")
	assert.Nil(t, table.Lookup(ratetable.UnknownZone, 1), "unknown zone")
	assert.Nil(t, table.Lookup(3, 0), "zero weight")
}

func TestLookup_MonotoneInWeight(t *testing.T) {
	table := ratetable.Default()

	for zone := 1; zone <= ratetable.MaxZone; zone++ {
		prev := 0.0
		for lb := 0.05; lb <= 22; lb += 0.05 {
			price := table.Lookup(zone, lbToKg(lb))
			require.NotNil(t, price, "zone %d weight %.2f lb", zone, lb)
			assert.GreaterOrEqual(t, *price, prev, "zone %d weight %.2f lb", zone, lb)
			assert.Greater(t, *price, 0.0)
			prev = *price
		}
	}
}

func TestDefault_Validates(t *testing.T) {
	table := ratetable.Default()
	require.NoError(t, table.Validate())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, table.ZoneNumbers())
}

func TestDefault_ReturnsCopy(t *testing.T) {
	a := ratetable.Default()
	a.Zones[3][2] = 99

	b := ratetable.Default()
	assert.Equal(t, 3.25, b.Zones[3][2])
}

func TestParse(t *testing.T) {
	data := []byte(`
currency: USD
breakpoints_lb: [1, 2, 5]
zones:
  0: [1.00]
  1: [2.00, 3.00, 4.50]
`)
	table, err := ratetable.Parse(data)
	require.NoError(t, err)

	price := table.Lookup(1, lbToKg(1.5))
	require.NotNil(t, price)
	assert.Equal(t, 3.00, *price)
	assert.Nil(t, table.Lookup(0, lbToKg(1.5)))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"descending breakpoints", "breakpoints_lb: [2, 1]\nzones:\n  1: [1, 2]\n"},
		{"decreasing prices", "breakpoints_lb: [1, 2]\nzones:\n  1: [3, 2]\n"},
		{"zone out of range", "breakpoints_lb: [1]\nzones:\n  9: [1]\n"},
		{"too many prices", "breakpoints_lb: [1]\nzones:\n  1: [1, 2]\n"},
		{"zero price", "breakpoints_lb: [1]\nzones:\n  1: [0]\n"},
		{"no zones", "breakpoints_lb: [1]\n"},
		{"malformed", "breakpoints_lb: [1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ratetable.Parse([]byte(tt.data))
			assert.True(t, errors.Is(err, ratetable.ErrInvalidTable), "got %v", err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("breakpoints_lb: [1]\nzones:\n  2: [5.5]\n"), 0o644))

	table, err := ratetable.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "USD", table.Currency)

	_, err = ratetable.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestZone(t *testing.T) {
	tests := []struct {
		origin, dest string
		want         int
	}{
		{"90001", "90001", 0},
		{"90001", "90001-1234", 0},
		{"90001", "90210", 1},
		{"90001", "75001", 3},
		{"10001", "90001", 8},
		{"00501", "99501", 8},
		{"90001", "K1A 0B1", ratetable.UnknownZone},
		{"", "75001", ratetable.UnknownZone},
	}

	for _, tt := range tests {
		t.Run(tt.origin+"->"+tt.dest, func(t *testing.T) {
			assert.Equal(t, tt.want, ratetable.Zone(tt.origin, tt.dest))
		})
	}
}

func TestDestinationZone(t *testing.T) {
	tests := []struct {
		dest string
		want int
	}{
		{"30301", 3},
		{"30301-1234", 3},
		{" 60601 ", 6},
		{"75001", 7},
		{"99501", 8},
		{"02108", 1},
		{"K1A 0B1", ratetable.UnknownZone},
		{"", ratetable.UnknownZone},
	}

	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			assert.Equal(t, tt.want, ratetable.DestinationZone(tt.dest))
		})
	}
}

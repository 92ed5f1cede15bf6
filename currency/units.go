package currency

import (
	"fmt"
	"strings"
)

// Dimension is the physical quantity a unit measures.
type Dimension uint8

const (
	DimCount Dimension = iota
	DimMass
	DimVolume
	DimEnergy
)

func (d Dimension) String() string {
	switch d {
	case DimMass:
		return "mass"
	case DimVolume:
		return "volume"
	case DimEnergy:
		return "energy"
	default:
		return "count"
	}
}

// Unit is a parsed unit: its dimension and the factor to the base unit
// of that dimension (kg, L, kWh, item).
type Unit struct {
	Symbol    string
	Dimension Dimension
	Factor    float64
}

var units = map[string]Unit{
	"":     {"", DimCount, 1},
	"item": {"item", DimCount, 1},
	"kg":   {"kg", DimMass, 1},
	"g":    {"g", DimMass, 1e-3},
	"mg":   {"mg", DimMass, 1e-6},
	"t":    {"t", DimMass, 1e3},
	"l":    {"L", DimVolume, 1},
	"ml":   {"mL", DimVolume, 1e-3},
	"m3":   {"m3", DimVolume, 1e3},
	"kwh":  {"kWh", DimEnergy, 1},
	"wh":   {"Wh", DimEnergy, 1e-3},
	"mj":   {"MJ", DimEnergy, 1 / 3.6},
	"kj":   {"kJ", DimEnergy, 1 / 3600.0},
}

// ParseUnit looks up a unit symbol, case-insensitively.
func ParseUnit(symbol string) (Unit, error) {
	u, ok := units[strings.ToLower(strings.TrimSpace(symbol))]
	if !ok {
		return Unit{}, fmt.Errorf("unknown unit %q", symbol)
	}
	return u, nil
}

// Compatible reports whether two unit symbols measure the same dimension.
func Compatible(a, b string) bool {
	ua, err := ParseUnit(a)
	if err != nil {
		return false
	}
	ub, err := ParseUnit(b)
	if err != nil {
		return false
	}
	return ua.Dimension == ub.Dimension
}

// Normalize converts value in the given unit to the base unit of its
// dimension. Unknown units pass through unchanged.
func Normalize(value float64, symbol string) float64 {
	u, err := ParseUnit(symbol)
	if err != nil {
		return value
	}
	return value * u.Factor
}

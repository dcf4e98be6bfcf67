// Package units provides shared constants and validation for wavefront error units
package units

import "math"

// Unit constants
const (
	Rad = "rad"
	NM  = "nm"
	UM  = "um"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Rad, NM, UM}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "rad, nm, um"
}

// ConvertWFE converts a phase variance [rad^2] at wavelength lam [m] to an
// rms wavefront error in the target units. Negative variances map to 0.
func ConvertWFE(variance, lam float64, targetUnits string) float64 {
	rms := math.Sqrt(math.Max(variance, 0))
	switch targetUnits {
	case NM:
		return rms * lam / (2 * math.Pi) / 1e-9
	case UM:
		return rms * lam / (2 * math.Pi) / 1e-6
	case Rad:
		return rms
	default:
		return rms // default to rad if unknown unit
	}
}

// Label returns the axis label for a value produced by ConvertWFE. Every
// unit, rad included, labels an rms error; unknown units fall back to rad.
func Label(targetUnits string) string {
	switch targetUnits {
	case NM:
		return "nm rms"
	case UM:
		return "um rms"
	default:
		return "rad rms"
	}
}

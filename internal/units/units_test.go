package units

import (
	"math"
	"testing"
)

func TestConvertWFE(t *testing.T) {
	lam := 0.8e-6
	tests := []struct {
		name     string
		variance float64
		units    string
		expected float64
	}{
		{"1 rad^2 to rad", 1.0, Rad, 1.0},
		{"1 rad^2 to nm at 0.8um", 1.0, NM, 800 / (2 * math.Pi)},
		{"1 rad^2 to um at 0.8um", 1.0, UM, 0.8 / (2 * math.Pi)},
		{"4 rad^2 to rad", 4.0, Rad, 2.0},
		{"unknown units default to rad", 4.0, "unknown", 2.0},
		{"zero variance", 0.0, NM, 0.0},
		{"negative variance clamps", -1.0, NM, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertWFE(tt.variance, lam, tt.units)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ConvertWFE(%f, %s) = %f, want %f", tt.variance, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid rad", Rad, true},
		{"valid nm", NM, true},
		{"valid um", UM, true},
		{"invalid unit", "invalid", false},
		{"empty string", "", false},
		{"case sensitive", "NM", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.unit)
			if result != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	if got := Label(NM); got != "nm rms" {
		t.Errorf("Label(nm) = %q", got)
	}
	if got := Label(Rad); got != "rad rms" {
		t.Errorf("Label(rad) = %q", got)
	}
	if got := Label(UM); got != "um rms" {
		t.Errorf("Label(um) = %q", got)
	}
	if got := Label("furlong"); got != "rad rms" {
		t.Errorf("Label(furlong) = %q", got)
	}
	// rad values are rms, not variances.
	if got := ConvertWFE(0.25, 1e-6, Rad); got != 0.5 {
		t.Errorf("ConvertWFE(0.25, rad) = %g, want 0.5", got)
	}
}

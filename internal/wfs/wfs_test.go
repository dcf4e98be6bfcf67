package wfs

import (
	"errors"
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"ideal", Ideal},
		{"idealWFS", Ideal},
		{"unmodPyWFS", UnmodulatedPyramid},
		{"asympModPyWFS", AsymptoticModulatedPyramid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Parse(tt.name)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.name, err)
			}
			if w.Kind != tt.want {
				t.Errorf("Parse(%q).Kind = %v, want %v", tt.name, w.Kind, tt.want)
			}
		})
	}

	if _, err := Parse("shack"); !errors.Is(err, ErrUnknownWFS) {
		t.Errorf("Parse(shack) error = %v, want ErrUnknownWFS", err)
	}
}

func TestIdealIsConstant(t *testing.T) {
	w := WFS{Kind: Ideal}
	for _, mn := range [][2]int{{1, 0}, {5, 5}, {-12, 3}} {
		if got := w.Beta(mn[0], mn[1], 8, 0.2); got != 1 {
			t.Errorf("Beta(%d,%d) = %g, want 1", mn[0], mn[1], got)
		}
	}
}

func TestUnmodulatedPyramid(t *testing.T) {
	w := WFS{Kind: UnmodulatedPyramid}
	low := w.Beta(1, 0, 8, 0.2)
	high := w.Beta(20, 0, 8, 0.2)
	if math.Abs(low-math.Sqrt2) > 0.01 {
		t.Errorf("low-order beta = %g, want close to sqrt(2)", low)
	}
	if high <= low {
		t.Errorf("beta should grow toward the control edge: low=%g high=%g", low, high)
	}
	// Edge of the control region: sinc(1/2) = 2/pi.
	if got, want := high, math.Sqrt2*math.Pi/2; math.Abs(got-want) > 1e-9 {
		t.Errorf("edge beta = %g, want %g", got, want)
	}
}

func TestModulatedPyramidSlopeRegime(t *testing.T) {
	w := WFS{Kind: AsymptoticModulatedPyramid, ModRadius: 3}
	b1 := w.Beta(1, 0, 8, 0.2)
	b2 := w.Beta(2, 0, 8, 0.2)
	if b1 <= b2 {
		t.Errorf("modulated beta should fall with spatial frequency inside the modulation radius: b1=%g b2=%g", b1, b2)
	}
	unmod := WFS{Kind: UnmodulatedPyramid}
	if got, want := w.Beta(10, 0, 8, 0.2), unmod.Beta(10, 0, 8, 0.2); math.Abs(got-want) > 1e-12 {
		t.Errorf("outside the modulation radius modulated = %g, want unmodulated %g", got, want)
	}
}

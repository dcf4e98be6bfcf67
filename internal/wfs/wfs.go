// Package wfs provides the wavefront sensor noise-propagation models.
//
// Each sensor is a pure function from a spatial Fourier mode to the
// sensitivity coefficient beta_p: the measurement noise variance of a mode
// is beta_p^2 / SNR^2.
package wfs

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownWFS is returned by Parse for unrecognised sensor names.
var ErrUnknownWFS = errors.New("wfs: unknown WFS type")

// Kind tags the sensor variant.
type Kind int

const (
	Ideal Kind = iota
	UnmodulatedPyramid
	AsymptoticModulatedPyramid
)

// DefaultModRadius is the modulation radius in lambda/D used when none is set.
const DefaultModRadius = 3.0

// WFS is a tagged sensor model.
type WFS struct {
	Kind Kind
	// ModRadius is the modulation radius in lambda/D for
	// AsymptoticModulatedPyramid.
	ModRadius float64
}

// Parse maps a configuration name to a sensor.
func Parse(name string) (WFS, error) {
	switch name {
	case "ideal", "idealWFS":
		return WFS{Kind: Ideal}, nil
	case "unmodPyWFS":
		return WFS{Kind: UnmodulatedPyramid}, nil
	case "asympModPyWFS":
		return WFS{Kind: AsymptoticModulatedPyramid, ModRadius: DefaultModRadius}, nil
	}
	return WFS{}, fmt.Errorf("%w: %q", ErrUnknownWFS, name)
}

func (w WFS) String() string {
	switch w.Kind {
	case Ideal:
		return "idealWFS"
	case UnmodulatedPyramid:
		return "unmodPyWFS"
	case AsymptoticModulatedPyramid:
		return "asympModPyWFS"
	}
	return fmt.Sprintf("WFS(%d)", int(w.Kind))
}

// Beta returns beta_p for mode (m, n) on an aperture of diameter bigD
// sampled with actuator/subaperture spacing d.
func (w WFS) Beta(m, n int, bigD, d float64) float64 {
	switch w.Kind {
	case UnmodulatedPyramid:
		return math.Sqrt2 / sampling(m, n, bigD, d)
	case AsymptoticModulatedPyramid:
		r := w.ModRadius
		if r <= 0 {
			r = DefaultModRadius
		}
		kd := math.Hypot(float64(m), float64(n))
		g := 1.0
		if kd > 0 {
			g = math.Max(1, math.Pi*r/(2*kd))
		}
		return math.Sqrt2 * g / sampling(m, n, bigD, d)
	}
	return 1
}

// sampling is the pixel transfer of a mode sampled at pitch d.
func sampling(m, n int, bigD, d float64) float64 {
	s := math.Abs(sinc(float64(m)*d/bigD) * sinc(float64(n)*d/bigD))
	if s < 1e-6 {
		return 1e-6
	}
	return s
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

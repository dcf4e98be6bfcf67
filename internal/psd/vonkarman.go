// Package psd implements the von Karman spatial power spectrum of
// atmospheric phase and the component selector that turns it into phase,
// amplitude or chromatic-dispersion spectra.
package psd

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/aosystem/internal/atmosphere"
)

// ErrUnknownComponent is returned by ParseComponent for unrecognised names.
var ErrUnknownComponent = errors.New("psd: unknown component")

// Component selects which physical quantity the spectrum describes.
type Component int

const (
	Phase Component = iota
	Amplitude
	DispPhase
	DispAmplitude
)

var componentNames = map[Component]string{
	Phase:         "phase",
	Amplitude:     "amplitude",
	DispPhase:     "dispPhase",
	DispAmplitude: "dispAmplitude",
}

func (c Component) String() string {
	if s, ok := componentNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Component(%d)", int(c))
}

// ParseComponent maps a configuration name to a Component.
func ParseComponent(s string) (Component, error) {
	for c, name := range componentNames {
		if s == name {
			return c, nil
		}
	}
	return Phase, fmt.Errorf("%w: %q (want phase, amplitude, dispPhase or dispAmplitude)", ErrUnknownComponent, s)
}

// Constant is the von Karman normalisation
// Gamma(11/6)^2 / (2 pi^(11/3)) * (24/5 Gamma(6/5))^(5/6), about 0.0229,
// for k in cycles per meter.
var Constant = func() float64 {
	g116 := math.Gamma(11.0 / 6.0)
	return g116 * g116 / (2 * math.Pow(math.Pi, 11.0/3.0)) * math.Pow(24.0/5.0*math.Gamma(6.0/5.0), 5.0/6.0)
}()

// Settings configure the spectrum.
type Settings struct {
	SubTipTilt    bool
	Scintillation bool
	Component     Component
}

// Spectrum evaluates the turbulence PSD for an atmosphere.
type Spectrum struct {
	Atm      *atmosphere.Profile
	Settings Settings
}

// K0Sq returns 1/L0^2, zero for an infinite outer scale.
func (s Spectrum) K0Sq() float64 {
	if l0 := s.Atm.L0(); l0 > 0 {
		return 1 / (l0 * l0)
	}
	return 0
}

// Raw returns the phase PSD [rad^2 m^2] at Lam0 for spatial frequency k
// [cycles/m], including the airmass factor secZeta.
func (s Spectrum) Raw(k, secZeta float64) float64 {
	k2 := k*k + s.K0Sq()
	if k2 == 0 {
		return 0
	}
	return Constant * secZeta * math.Pow(s.Atm.R0(), -5.0/3.0) * math.Pow(k2, -11.0/6.0)
}

// Multiplier returns the component weighting at k for science wavelength
// lamSci and sensing wavelength lamWFS.
func (s Spectrum) Multiplier(c Component, k, lamSci, lamWFS, secZeta float64) float64 {
	if !s.Settings.Scintillation {
		if c == Phase {
			return 1
		}
		return 0
	}
	switch c {
	case Phase:
		return s.Atm.X(k, lamSci, secZeta)
	case Amplitude:
		return s.Atm.Y(k, lamSci, secZeta)
	case DispPhase:
		return s.Atm.DX(k, lamSci, lamWFS, secZeta)
	case DispAmplitude:
		return s.Atm.DY(k, lamSci, lamWFS, secZeta)
	}
	return 0
}

// At returns the PSD of component c at k, converted to rad^2 at lamSci.
func (s Spectrum) At(c Component, k, lamSci, lamWFS, secZeta float64) float64 {
	scale := s.Atm.Lam0() / lamSci
	return s.Raw(k, secZeta) * s.Multiplier(c, k, lamSci, lamWFS, secZeta) * scale * scale
}

// ModeVariance returns the variance of Fourier mode (m, n) on an aperture
// of diameter d: the PSD times the frequency cell area 1/d^2. With tip/tilt
// subtraction the k = 1/D modes are removed.
func (s Spectrum) ModeVariance(c Component, m, n int, d, lamSci, lamWFS, secZeta float64) float64 {
	r2 := m*m + n*n
	if r2 == 0 {
		return 0
	}
	if s.Settings.SubTipTilt && r2 == 1 {
		return 0
	}
	k := math.Sqrt(float64(r2)) / d
	return s.At(c, k, lamSci, lamWFS, secZeta) / (d * d)
}

// FittingTail returns the phase variance beyond radius kf [cycles/m] at
// lamSci, integrating the PSD analytically over the outer annulus.
func (s Spectrum) FittingTail(kf, lamSci, secZeta float64) float64 {
	scale := s.Atm.Lam0() / lamSci
	k2 := kf*kf + s.K0Sq()
	if k2 == 0 {
		return math.Inf(1)
	}
	return 2 * math.Pi * Constant * secZeta * math.Pow(s.Atm.R0(), -5.0/3.0) * 0.6 * math.Pow(k2, -5.0/6.0) * scale * scale
}

// Package aosys computes the spatial-frequency error budget of an
// adaptive optics system.
//
// Config is an immutable description of the instrument and atmosphere;
// Model is a stateless calculator over a Config. Star magnitude sweeps go
// through Config.WithStarMag so no shared state is mutated.
package aosys

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/aosystem/internal/atmosphere"
	"github.com/banshee-data/aosystem/internal/psd"
	"github.com/banshee-data/aosystem/internal/wfs"
)

// ErrPrecondition marks a violated physical precondition for a routine.
var ErrPrecondition = errors.New("precondition failed")

// Config describes an AO system.
type Config struct {
	Atm *atmosphere.Profile
	PSD psd.Settings
	WFS wfs.WFS

	D         float64 // telescope diameter [m]
	DMin      float64 // minimum actuator spacing [m]
	OptD      bool    // optimise actuator spacing
	OptDDelta float64 // fractional step of the spacing search
	BinNpix   bool    // rebin WFS pixels with the actuator spacing

	F0      float64 // zero-magnitude photon flux [photons/s]
	LamWFS  float64 // WFS wavelength [m]
	NpixWFS float64 // number of WFS pixels
	RonWFS  float64 // readout noise [electrons/read]
	Fbg     float64 // background [counts/pix/s]

	TauWFS    float64 // WFS integration time [s]
	MinTauWFS float64 // minimum integration time [s]
	DeltaTau  float64 // loop delay [s]
	OptTau    bool    // optimise integration time

	LamSci float64 // science wavelength [m]
	Zeta   float64 // zenith distance [rad]

	FitMNMax      int  // spatial frequency index cutoff
	CircularLimit bool // circular rather than square control/fitting region

	NcpWFE   float64 // NCP WFE [rad^2]
	NcpAlpha float64 // NCP PSD index

	StarMag float64
}

// WithStarMag returns a copy of c with a different star magnitude.
func (c Config) WithStarMag(mag float64) Config {
	c.StarMag = mag
	return c
}

// SecZeta returns the airmass.
func (c Config) SecZeta() float64 {
	return 1 / math.Cos(c.Zeta)
}

// Spectrum returns the spatial PSD model for this system.
func (c Config) Spectrum() psd.Spectrum {
	return psd.Spectrum{Atm: c.Atm, Settings: c.PSD}
}

// Validate checks the physical preconditions shared by every routine.
func (c Config) Validate() error {
	switch {
	case c.Atm == nil:
		return fmt.Errorf("atmosphere is not set: %w", ErrPrecondition)
	case c.D <= 0:
		return fmt.Errorf("D must be > 0, got %g: %w", c.D, ErrPrecondition)
	case c.DMin <= 0:
		return fmt.Errorf("d_min must be > 0, got %g: %w", c.DMin, ErrPrecondition)
	case c.LamSci <= 0:
		return fmt.Errorf("lam_sci must be > 0, got %g: %w", c.LamSci, ErrPrecondition)
	case c.LamWFS <= 0:
		return fmt.Errorf("lam_wfs must be > 0, got %g: %w", c.LamWFS, ErrPrecondition)
	case c.Atm.R0() <= 0:
		return fmt.Errorf("r_0 must be > 0, got %g: %w", c.Atm.R0(), ErrPrecondition)
	case c.Zeta < 0 || c.Zeta >= math.Pi/2:
		return fmt.Errorf("zeta must be in [0, pi/2), got %g: %w", c.Zeta, ErrPrecondition)
	case c.F0 <= 0:
		return fmt.Errorf("F0 must be > 0, got %g: %w", c.F0, ErrPrecondition)
	case c.FitMNMax <= 0:
		return fmt.Errorf("fit_mn_max must be > 0, got %d: %w", c.FitMNMax, ErrPrecondition)
	case c.TauWFS <= 0 && c.MinTauWFS <= 0:
		return fmt.Errorf("tau_wfs or min_tau_wfs must be > 0: %w", ErrPrecondition)
	case c.Fbg < 0 || c.NpixWFS < 0 || c.RonWFS < 0 || c.DeltaTau < 0 || c.NcpWFE < 0:
		return fmt.Errorf("background, pixels, noise, delay and NCP WFE must be non-negative: %w", ErrPrecondition)
	}
	return nil
}

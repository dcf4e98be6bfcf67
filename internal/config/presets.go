// Package config loads the JSON run configuration and resolves it on top
// of a named instrument preset.
package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/atmosphere"
	"github.com/banshee-data/aosystem/internal/psd"
	"github.com/banshee-data/aosystem/internal/wfs"
)

// DefaultModel is loaded when no model is configured.
const DefaultModel = "MagAOX"

// ErrUnknownModel is returned by Preset for unrecognised model names.
var ErrUnknownModel = errors.New("config: unknown model")

// Models lists the preset names.
var Models = []string{"Guyon2005", "MagAOX", "GMagAOX"}

// Preset returns a fresh system configuration for a named model. The
// returned Config owns its atmosphere.
func Preset(name string) (aosys.Config, error) {
	switch name {
	case "Guyon2005":
		return guyon2005(), nil
	case "MagAOX":
		return magAOX(), nil
	case "GMagAOX":
		return gMagAOX(), nil
	}
	return aosys.Config{}, fmt.Errorf("%w: %q (want Guyon2005, MagAOX or GMagAOX)", ErrUnknownModel, name)
}

// lcoProfile is the seven layer Las Campanas turbulence profile.
func lcoProfile(r0 float64) *atmosphere.Profile {
	atm, err := atmosphere.NewProfile(r0, 25, 0.5e-6,
		[]float64{0.42, 0.03, 0.06, 0.16, 0.11, 0.10, 0.12},
		[]float64{250, 500, 1000, 2000, 4000, 8000, 16000},
		[]float64{10, 10, 20, 20, 25, 30, 25},
		[]float64{0, math.Pi / 6, math.Pi / 3, math.Pi / 2, 2 * math.Pi / 3, 5 * math.Pi / 6, math.Pi})
	if err != nil {
		panic(err)
	}
	return atm
}

// guyon2005 is the idealised 8 m system of Guyon (2005, ApJ 629, 592).
func guyon2005() aosys.Config {
	return aosys.Config{
		Atm:       atmosphere.SingleLayer(0.2, 0.5e-6, 10),
		PSD:       psd.Settings{Component: psd.Phase},
		WFS:       wfs.WFS{Kind: wfs.Ideal},
		D:         8,
		DMin:      0.125,
		OptD:      true,
		OptDDelta: 1,
		F0:        1.75e9 * 0.25 * math.Pi * 64 * 0.18,
		LamWFS:    0.55e-6,
		NpixWFS:   12868,
		MinTauWFS: 1.0 / 2000,
		TauWFS:    1.0 / 2000,
		OptTau:    true,
		LamSci:    1.6e-6,
		FitMNMax:  64,
		NcpAlpha:  2,
		StarMag:   5,
	}
}

// magAOX is the 6.5 m Magellan Clay extreme AO system.
func magAOX() aosys.Config {
	return aosys.Config{
		Atm:       lcoProfile(0.17),
		PSD:       psd.Settings{Component: psd.Phase},
		WFS:       wfs.WFS{Kind: wfs.UnmodulatedPyramid},
		D:         6.5,
		DMin:      6.5 / 48,
		OptDDelta: 1,
		F0:        2.4e10,
		LamWFS:    0.851e-6,
		NpixWFS:   9868,
		RonWFS:    0.57,
		MinTauWFS: 1.0 / 3622,
		TauWFS:    1.0 / 3622,
		DeltaTau:  0.5 / 3622,
		OptTau:    true,
		LamSci:    0.656e-6,
		FitMNMax:  48,
		NcpAlpha:  2,
		StarMag:   5,
	}
}

// gMagAOX is the 25.4 m Giant Magellan Telescope extreme AO concept.
func gMagAOX() aosys.Config {
	return aosys.Config{
		Atm:       lcoProfile(0.17),
		PSD:       psd.Settings{Component: psd.Phase},
		WFS:       wfs.WFS{Kind: wfs.UnmodulatedPyramid},
		D:         25.4,
		DMin:      25.4 / 92,
		OptDDelta: 1,
		F0:        2.4e10 * math.Pow(25.4/6.5, 2),
		LamWFS:    0.851e-6,
		NpixWFS:   33000,
		RonWFS:    0.3,
		MinTauWFS: 1.0 / 4000,
		TauWFS:    1.0 / 4000,
		DeltaTau:  0.5 / 4000,
		OptTau:    true,
		LamSci:    0.8e-6,
		FitMNMax:  92,
		NcpAlpha:  2,
		StarMag:   5,
	}
}

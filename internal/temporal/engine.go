// Package temporal computes temporal power spectra of Fourier modes under
// frozen-flow turbulence, and the closed-loop response of an AO controller
// to them.
//
// The open-loop PSD of a mode is built per layer by integrating the
// spatial PSD, weighted by the mode's filter, along the direction
// perpendicular to the wind. Each spectrum is normalised to the mode's
// spatial variance, so the spectral and spatial budgets agree.
package temporal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/psd"
)

// TailIndex is the power-law index of the open-loop PSD above the cutoff.
const TailIndex = -17.0 / 3.0

// Grid is the uniform frequency grid f_i = i df, i = 1..floor(fs/(2 df)).
type Grid struct {
	Fs   float64
	Df   float64
	Freq []float64
}

// NewGrid builds the grid for sampling frequency fs and resolution df.
func NewGrid(fs, df float64) (Grid, error) {
	if fs <= 0 {
		return Grid{}, fmt.Errorf("sampling frequency must be > 0, got %g: %w", fs, aosys.ErrPrecondition)
	}
	if df <= 0 {
		return Grid{}, fmt.Errorf("dfreq must be > 0, got %g: %w", df, aosys.ErrPrecondition)
	}
	n := int(math.Floor(fs/(2*df) + 1e-9))
	if n < 1 {
		return Grid{}, fmt.Errorf("dfreq %g exceeds Nyquist %g: %w", df, fs/2, aosys.ErrPrecondition)
	}
	freq := make([]float64, n)
	for i := range freq {
		freq[i] = float64(i+1) * df
	}
	return Grid{Fs: fs, Df: df, Freq: freq}, nil
}

// Integral returns sum(p) df.
func (g Grid) Integral(p []float64) float64 {
	return floats.Sum(p) * g.Df
}

// Engine computes temporal PSDs for an AO system.
type Engine struct {
	model *aosys.Model
	spec  psd.Spectrum
	cfg   aosys.Config
	// Fmax is the explicit cutoff frequency; <= 0 selects it per mode.
	Fmax float64
}

// NewEngine returns an engine over a resolved model.
func NewEngine(m *aosys.Model, fmax float64) *Engine {
	return &Engine{model: m, spec: m.Spectrum(), cfg: m.Config(), Fmax: fmax}
}

// Model returns the underlying spatial model.
func (e *Engine) Model() *aosys.Model { return e.model }

// Cutoff returns the frequency above which the PSD follows the power-law
// tail for mode (mm, nn).
func (e *Engine) Cutoff(mm, nn int, g Grid) float64 {
	fc := e.Fmax
	if fc <= 0 {
		k := e.model.K(mm, nn)
		fc = e.cfg.Atm.MaxV() * (k + 4/e.cfg.D)
	}
	return math.Min(fc, g.Fs/2)
}

// OpenLoop returns the open-loop PSD [rad^2/Hz] of mode (mm, nn) on g.
func (e *Engine) OpenLoop(mm, nn int, g Grid) []float64 {
	out := make([]float64, len(g.Freq))
	variance := e.model.ComponentVar(e.cfg.PSD.Component, mm, nn)
	if variance == 0 || len(out) == 0 {
		return out
	}

	fc := e.Cutoff(mm, nn, g)
	nc := 0
	for nc < len(g.Freq) && g.Freq[nc] <= fc {
		nc++
	}
	nc = max(nc, 1)

	kx := float64(mm) / e.cfg.D
	ky := float64(nn) / e.cfg.D
	lp := make([]float64, len(out))
	for _, l := range e.cfg.Atm.Layers() {
		if l.Cn2 == 0 {
			continue
		}
		for i := range lp {
			lp[i] = 0
		}
		if l.V > 0 {
			for i := 0; i < nc; i++ {
				lp[i] = e.layerPSD(g.Freq[i], l.V, l.Dir, kx, ky)
			}
			powerTail(lp, g.Freq, nc)
		}
		s := g.Integral(lp)
		if !(s > 0) || math.IsInf(s, 0) {
			// A frozen layer, or one whose spectrum fell outside the
			// grid, puts all its power at the lowest frequency.
			for i := range lp {
				lp[i] = 0
			}
			lp[0] = 1
			s = g.Df
		}
		floats.AddScaled(out, l.Cn2/s, lp)
	}
	floats.Scale(variance/g.Integral(out), out)
	return out
}

// powerTail replaces p[nc:] with the power-law continuation of p[nc-1].
func powerTail(p, freq []float64, nc int) {
	fc := freq[nc-1]
	pc := p[nc-1]
	for i := nc; i < len(p); i++ {
		p[i] = pc * math.Pow(freq[i]/fc, TailIndex)
	}
}

// layerPSD integrates the filtered spatial PSD across the wind direction
// for a single layer moving at speed v in direction dir.
func (e *Engine) layerPSD(f, v, dir, kx, ky float64) float64 {
	ex, ey := math.Cos(dir), math.Sin(dir)
	qa := f / v
	kmag := math.Hypot(kx, ky)
	lim := kmag + 8/e.cfg.D
	n := max(int(16*lim*e.cfg.D)+1, 129)

	xs := make([]float64, n)
	ys := make([]float64, n)
	sec := e.cfg.SecZeta()
	for j := range xs {
		qp := -lim + 2*lim*float64(j)/float64(n-1)
		qx := qa*ex - qp*ey
		qy := qa*ey + qp*ex
		xs[j] = qp
		phi := e.spec.At(e.cfg.PSD.Component, math.Hypot(qx, qy), e.cfg.LamSci, e.cfg.LamWFS, sec)
		ys[j] = phi * e.modalFilter(qx, qy, kx, ky)
	}
	return 2 / v * integrate.Trapezoidal(xs, ys)
}

// modalFilter is the power response of the cosine/sine mode pair at
// (kx, ky) to spatial frequency (qx, qy) on a circular pupil.
func (e *Engine) modalFilter(qx, qy, kx, ky float64) float64 {
	a := airy(math.Hypot(qx-kx, qy-ky), e.cfg.D)
	b := airy(math.Hypot(qx+kx, qy+ky), e.cfg.D)
	return 0.5 * (a*a + b*b)
}

// airy is the pupil amplitude transfer 2 J1(pi D x)/(pi D x).
func airy(x, d float64) float64 {
	u := math.Pi * d * x
	if u < 1e-8 {
		return 1
	}
	return 2 * math.J1(u) / u
}

// NoisePSD returns the flat WFS noise PSD of mode (mm, nn) sampled at
// g.Fs: 2 tau sigma^2, which integrates to sigma^2 over [0, fs/2].
func (e *Engine) NoisePSD(mm, nn int, g Grid) []float64 {
	tau := 1 / g.Fs
	level := 2 * tau * e.model.NoiseVar(mm, nn, tau)
	out := make([]float64, len(g.Freq))
	for i := range out {
		out[i] = level
	}
	return out
}

package aosys

import (
	"math"

	"github.com/banshee-data/aosystem/internal/atmosphere"
	"github.com/banshee-data/aosystem/internal/psd"
	"github.com/banshee-data/aosystem/internal/sweep"
)

// maxTauWFS bounds the integration time search.
const maxTauWFS = 1.0

// Model evaluates error terms for a Config at a resolved operating point:
// the actuator spacing and WFS integration time, both possibly optimised.
type Model struct {
	cfg  Config
	spec psd.Spectrum
	sec  float64
	d    float64
	tau  float64
	mnC  int

	ncpNorm float64
}

// NewModel validates cfg and resolves the operating point.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := cfg.DMin
	if cfg.OptD {
		d = optimalSpacing(cfg)
	}
	m := newModelAt(cfg, d, 0)
	m.tau = m.optimalTau()
	return m, nil
}

func newModelAt(cfg Config, d, tau float64) *Model {
	m := &Model{
		cfg:  cfg,
		spec: cfg.Spectrum(),
		sec:  cfg.SecZeta(),
		d:    d,
		tau:  tau,
		mnC:  int(math.Floor(cfg.D / (2 * d))),
	}
	m.ncpNorm = m.ncpNormalisation()
	return m
}

// Config returns the configuration the model was built from.
func (m *Model) Config() Config { return m.cfg }

// DOpt returns the actuator spacing in use.
func (m *Model) DOpt() float64 { return m.d }

// TauOpt returns the WFS integration time in use.
func (m *Model) TauOpt() float64 { return m.tau }

// MNCon returns the control radius in mode index units.
func (m *Model) MNCon() int { return m.mnC }

// Spectrum returns the spatial PSD model.
func (m *Model) Spectrum() psd.Spectrum { return m.spec }

// Controlled reports whether mode (mm, nn) is corrected by the AO loop.
func (m *Model) Controlled(mm, nn int) bool {
	if mm == 0 && nn == 0 {
		return false
	}
	return InDomain(mm, nn, m.mnC, m.cfg.CircularLimit)
}

// InFitDomain reports whether mode (mm, nn) is within the analysis cutoff.
func (m *Model) InFitDomain(mm, nn int) bool {
	return InDomain(mm, nn, m.cfg.FitMNMax, m.cfg.CircularLimit)
}

// InDomain applies the square or circular limit policy.
func InDomain(mm, nn, limit int, circular bool) bool {
	if circular {
		return mm*mm+nn*nn <= limit*limit
	}
	return abs(mm) <= limit && abs(nn) <= limit
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// K returns the spatial frequency [cycles/m] of mode (mm, nn).
func (m *Model) K(mm, nn int) float64 {
	return math.Hypot(float64(mm), float64(nn)) / m.cfg.D
}

// Fg returns the guide star photon flux [photons/s].
func (m *Model) Fg() float64 {
	return m.cfg.F0 * math.Pow(10, -0.4*m.cfg.StarMag)
}

// Npix returns the WFS pixel count, rebinned when the actuator spacing
// is coarser than the minimum.
func (m *Model) Npix() float64 {
	if m.cfg.BinNpix && m.d > m.cfg.DMin {
		r := m.cfg.DMin / m.d
		return m.cfg.NpixWFS * r * r
	}
	return m.cfg.NpixWFS
}

// SNR2 returns the squared signal-to-noise ratio for integration time tau.
func (m *Model) SNR2(tau float64) float64 {
	f := m.Fg() * tau
	npix := m.Npix()
	den := f + npix*m.cfg.Fbg*tau + npix*m.cfg.RonWFS*m.cfg.RonWFS
	if den <= 0 {
		return math.Inf(1)
	}
	return f * f / den
}

// Beta returns the WFS sensitivity for mode (mm, nn).
func (m *Model) Beta(mm, nn int) float64 {
	return m.cfg.WFS.Beta(mm, nn, m.cfg.D, m.d)
}

// ComponentVar returns the variance of mode (mm, nn) for component c at
// the science wavelength.
func (m *Model) ComponentVar(c psd.Component, mm, nn int) float64 {
	return m.spec.ModeVariance(c, mm, nn, m.cfg.D, m.cfg.LamSci, m.cfg.LamWFS, m.sec)
}

// PhaseVar returns the phase variance of mode (mm, nn) at the science wavelength.
func (m *Model) PhaseVar(mm, nn int) float64 {
	return m.ComponentVar(psd.Phase, mm, nn)
}

// rawVar returns the unfiltered phase variance, ignoring scintillation
// weighting, used by the chromatic terms.
func (m *Model) rawVar(mm, nn int) float64 {
	r2 := mm*mm + nn*nn
	if r2 == 0 || (m.cfg.PSD.SubTipTilt && r2 == 1) {
		return 0
	}
	s := m.cfg.Atm.Lam0() / m.cfg.LamSci
	return m.spec.Raw(m.K(mm, nn), m.sec) * s * s / (m.cfg.D * m.cfg.D)
}

// NoiseVar returns the WFS noise variance of mode (mm, nn) at the science
// wavelength for integration time tau, regardless of the control radius.
func (m *Model) NoiseVar(mm, nn int, tau float64) float64 {
	b := m.Beta(mm, nn)
	r := m.cfg.LamWFS / m.cfg.LamSci
	return b * b / m.SNR2(tau) * r * r
}

func (m *Model) measurementAt(mm, nn int, tau float64) float64 {
	if !m.Controlled(mm, nn) {
		return 0
	}
	return m.NoiseVar(mm, nn, tau)
}

func (m *Model) timeDelayAt(mm, nn int, tau float64) float64 {
	if !m.Controlled(mm, nn) {
		return 0
	}
	x := 2 * math.Pi * m.K(mm, nn) * m.cfg.Atm.VWind() * (tau + m.cfg.DeltaTau)
	// A mode can always be left uncorrected.
	return m.PhaseVar(mm, nn) * math.Min(1, x*x)
}

// MeasurementVar returns the WFS noise variance of mode (mm, nn).
func (m *Model) MeasurementVar(mm, nn int) float64 { return m.measurementAt(mm, nn, m.tau) }

// TimeDelayVar returns the servo-lag variance of mode (mm, nn).
func (m *Model) TimeDelayVar(mm, nn int) float64 { return m.timeDelayAt(mm, nn, m.tau) }

// FittingVar returns the uncorrected variance of mode (mm, nn) inside the
// fitting domain.
func (m *Model) FittingVar(mm, nn int) float64 {
	if m.Controlled(mm, nn) || !m.InFitDomain(mm, nn) {
		return 0
	}
	return m.PhaseVar(mm, nn)
}

// ChromScintOPDVar returns the chromatic scintillation OPD variance of
// mode (mm, nn).
func (m *Model) ChromScintOPDVar(mm, nn int) float64 {
	if !m.Controlled(mm, nn) {
		return 0
	}
	return m.rawVar(mm, nn) * m.cfg.Atm.DX(m.K(mm, nn), m.cfg.LamSci, m.cfg.LamWFS, m.sec)
}

// ChromIndexVar returns the refractive-index chromaticity variance of
// mode (mm, nn).
func (m *Model) ChromIndexVar(mm, nn int) float64 {
	if !m.Controlled(mm, nn) {
		return 0
	}
	nSci := atmosphere.RefractiveIndex(m.cfg.LamSci)
	nWFS := atmosphere.RefractiveIndex(m.cfg.LamWFS)
	f := (nSci - nWFS) / (nWFS - 1)
	return m.rawVar(mm, nn) * m.cfg.Atm.X(m.K(mm, nn), m.cfg.LamSci, m.sec) * f * f
}

// DispAnisoOPDVar returns the dispersive anisoplanatism variance of mode
// (mm, nn). Dispersion runs along the m axis.
func (m *Model) DispAnisoOPDVar(mm, nn int) float64 {
	if !m.Controlled(mm, nn) {
		return 0
	}
	return m.rawVar(mm, nn) * m.cfg.Atm.DispersionShift(float64(mm), m.cfg.D, m.cfg.Zeta, m.cfg.LamSci, m.cfg.LamWFS)
}

func (m *Model) ncpNormalisation() float64 {
	var s float64
	m.forFitDomain(func(mm, nn int) {
		if r := math.Hypot(float64(mm), float64(nn)); r >= 1 {
			s += math.Pow(r, -m.cfg.NcpAlpha)
		}
	})
	return s
}

// NCPVar returns the non-common-path variance assigned to mode (mm, nn).
func (m *Model) NCPVar(mm, nn int) float64 {
	if m.cfg.NcpWFE == 0 || m.ncpNorm == 0 || !m.InFitDomain(mm, nn) {
		return 0
	}
	r := math.Hypot(float64(mm), float64(nn))
	if r < 1 {
		return 0
	}
	return m.cfg.NcpWFE * math.Pow(r, -m.cfg.NcpAlpha) / m.ncpNorm
}

func (m *Model) forFitDomain(fn func(mm, nn int)) {
	forDomain(m.cfg.FitMNMax, m.cfg.CircularLimit, fn)
}

func (m *Model) forControlled(fn func(mm, nn int)) {
	forDomain(m.mnC, m.cfg.CircularLimit, func(mm, nn int) {
		if mm != 0 || nn != 0 {
			fn(mm, nn)
		}
	})
}

func forDomain(limit int, circular bool, fn func(mm, nn int)) {
	for mm := -limit; mm <= limit; mm++ {
		for nn := -limit; nn <= limit; nn++ {
			if InDomain(mm, nn, limit, circular) {
				fn(mm, nn)
			}
		}
	}
}

// controlledResidual is the tau-dependent part of the budget.
func (m *Model) controlledResidual(tau float64) float64 {
	var s float64
	m.forControlled(func(mm, nn int) {
		s += m.measurementAt(mm, nn, tau) + m.timeDelayAt(mm, nn, tau)
	})
	return s
}

func (m *Model) optimalTau() float64 {
	c := m.cfg
	if !c.OptTau {
		return math.Max(c.TauWFS, c.MinTauWFS)
	}
	lo := c.MinTauWFS
	if lo <= 0 {
		lo = c.TauWFS
	}
	if lo >= maxTauWFS {
		return lo
	}
	f := func(logTau float64) float64 { return m.controlledResidual(math.Exp(logTau)) }
	a, b := math.Log(lo), math.Log(maxTauWFS)
	x, fx := sweep.GoldenSection(f, a, b, 1e-4)
	// The search never returns the interval ends exactly.
	if fa := f(a); fa <= fx {
		x, fx = a, fa
	}
	if fb := f(b); fb < fx {
		x = b
	}
	return math.Exp(x)
}

// optimalSpacing scans d = DMin(1 + j/OptDDelta) and keeps the spacing with
// the lowest total variance.
func optimalSpacing(cfg Config) float64 {
	delta := cfg.OptDDelta
	if delta <= 0 {
		delta = 1
	}
	best, bestVar := cfg.DMin, math.Inf(1)
	for j := 0; ; j++ {
		d := cfg.DMin * (1 + float64(j)/delta)
		if cfg.D/(2*d) < 1 {
			break
		}
		m := newModelAt(cfg, d, 0)
		m.tau = m.optimalTau()
		if v := m.Total(); v < bestVar {
			best, bestVar = d, v
		}
	}
	return best
}

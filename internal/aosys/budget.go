package aosys

import (
	"fmt"
	"io"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/aosystem/internal/psd"
)

// Term names an error budget contribution.
type Term string

const (
	Measurement   Term = "Measurement"
	TimeDelay     Term = "Time-delay"
	Fitting       Term = "Fitting"
	NCP           Term = "NCP-error"
	ChromScintOPD Term = "Chr-Scint-OPD"
	ChromIndex    Term = "Chr-Index"
	DispAnisoOPD  Term = "Disp-Aniso-OPD"
)

// Terms lists the budget terms in report order.
var Terms = []Term{Measurement, TimeDelay, Fitting, ChromScintOPD, ChromIndex, DispAnisoOPD, NCP}

// Budget is the evaluated error budget for one star magnitude.
type Budget struct {
	StarMag float64
	DOpt    float64
	TauOpt  float64
	Terms   map[Term]float64
	Total   float64
	Strehl  float64
}

// sumControlled adds fn over the controlled modes.
func (m *Model) sumControlled(fn func(mm, nn int) float64) float64 {
	var vals []float64
	m.forControlled(func(mm, nn int) { vals = append(vals, fn(mm, nn)) })
	return floats.Sum(vals)
}

// MeasurementError returns the total WFS noise variance [rad^2].
func (m *Model) MeasurementError() float64 { return m.sumControlled(m.MeasurementVar) }

// TimeDelayError returns the total servo-lag variance [rad^2].
func (m *Model) TimeDelayError() float64 { return m.sumControlled(m.TimeDelayVar) }

// FittingError returns the uncorrected variance inside the fitting domain
// plus the analytic tail beyond it.
func (m *Model) FittingError() float64 {
	var vals []float64
	m.forFitDomain(func(mm, nn int) { vals = append(vals, m.FittingVar(mm, nn)) })
	kf := float64(m.cfg.FitMNMax) / m.cfg.D
	return floats.Sum(vals) + m.spec.FittingTail(kf, m.cfg.LamSci, m.sec)
}

// ChromScintOPDError returns the total chromatic scintillation variance.
func (m *Model) ChromScintOPDError() float64 { return m.sumControlled(m.ChromScintOPDVar) }

// ChromIndexError returns the total refractive-index chromaticity variance.
func (m *Model) ChromIndexError() float64 { return m.sumControlled(m.ChromIndexVar) }

// DispAnisoOPDError returns the total dispersive anisoplanatism variance.
func (m *Model) DispAnisoOPDError() float64 { return m.sumControlled(m.DispAnisoOPDVar) }

// NCPError returns the non-common-path variance.
func (m *Model) NCPError() float64 { return m.cfg.NcpWFE }

// TermValue returns the total of a single budget term.
func (m *Model) TermValue(t Term) float64 {
	switch t {
	case Measurement:
		return m.MeasurementError()
	case TimeDelay:
		return m.TimeDelayError()
	case Fitting:
		return m.FittingError()
	case NCP:
		return m.NCPError()
	case ChromScintOPD:
		return m.ChromScintOPDError()
	case ChromIndex:
		return m.ChromIndexError()
	case DispAnisoOPD:
		return m.DispAnisoOPDError()
	}
	return 0
}

// Total returns the sum of all budget terms [rad^2].
func (m *Model) Total() float64 {
	var s float64
	for _, t := range Terms {
		s += m.TermValue(t)
	}
	return s
}

// Strehl returns the Marechal-extended Strehl ratio exp(-Total).
func (m *Model) Strehl() float64 {
	return math.Exp(-m.Total())
}

// Budget evaluates every term.
func (m *Model) Budget() Budget {
	b := Budget{
		StarMag: m.cfg.StarMag,
		DOpt:    m.d,
		TauOpt:  m.tau,
		Terms:   make(map[Term]float64, len(Terms)),
	}
	for _, t := range Terms {
		v := m.TermValue(t)
		b.Terms[t] = v
		b.Total += v
	}
	b.Strehl = math.Exp(-b.Total)
	return b
}

// CTerm selects a per-mode contribution for raw series and maps.
type CTerm int

const (
	C0 CTerm = 0 // uncorrected phase
	C1 CTerm = 1 // amplitude
	C2 CTerm = 2 // controlled residual: time delay and measurement
	C4 CTerm = 4 // chromatic scintillation OPD
	C6 CTerm = 6 // chromatic index
	C7 CTerm = 7 // dispersive anisoplanatism OPD
)

// CTerms lists the supported C-terms in order.
var CTerms = []CTerm{C0, C1, C2, C4, C6, C7}

func (c CTerm) String() string { return fmt.Sprintf("C%d", int(c)) }

// ParseCTerm parses names such as "C4".
func ParseCTerm(s string) (CTerm, error) {
	for _, c := range CTerms {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown C-term %q", s)
}

// C returns the contribution of term c for mode (mm, nn).
func (m *Model) C(c CTerm, mm, nn int) float64 {
	switch c {
	case C0:
		if m.Controlled(mm, nn) {
			return 0
		}
		return m.PhaseVar(mm, nn)
	case C1:
		return m.ComponentVar(psd.Amplitude, mm, nn)
	case C2:
		return m.MeasurementVar(mm, nn) + m.TimeDelayVar(mm, nn)
	case C4:
		return m.ChromScintOPDVar(mm, nn)
	case C6:
		return m.ChromIndexVar(mm, nn)
	case C7:
		return m.DispAnisoOPDVar(mm, nn)
	}
	return 0
}

// Raw returns the series over r in [0, FitMNMax) of the sum over n of
// C(r, n) within the fitting domain.
func (m *Model) Raw(c CTerm) []float64 {
	lim := m.cfg.FitMNMax
	out := make([]float64, lim)
	for r := 0; r < lim; r++ {
		for nn := -lim; nn <= lim; nn++ {
			if m.InFitDomain(r, nn) {
				out[r] += m.C(c, r, nn)
			}
		}
	}
	return out
}

// Map returns the (2 mnMap + 1)^2 array with Map[m+mnMap][n+mnMap] = C(m, n).
func (m *Model) Map(c CTerm, mnMap int) [][]float64 {
	if mnMap < 0 {
		mnMap = 0
	}
	size := 2*mnMap + 1
	out := make([][]float64, size)
	for i := range out {
		out[i] = make([]float64, size)
		for j := range out[i] {
			out[i][j] = m.C(c, i-mnMap, j-mnMap)
		}
	}
	return out
}

// WriteSetup writes a key/value summary of the resolved system.
func (m *Model) WriteSetup(w io.Writer) error {
	c := m.cfg
	atm := c.Atm
	var b strings.Builder
	p := func(k string, v interface{}) { fmt.Fprintf(&b, "#    %s = %v\n", k, v) }

	b.WriteString("# AO system setup\n")
	b.WriteString("#  Atmosphere\n")
	p("lam_0", atm.Lam0())
	p("r_0", atm.R0())
	p("L_0", atm.L0())
	p("v_wind", atm.VWind())
	p("z_mean", atm.ZMean())
	p("n_layers", atm.NumLayers())
	for i, l := range atm.Layers() {
		p(fmt.Sprintf("layer[%d]", i), fmt.Sprintf("cn2=%g z=%g v=%g dir=%g", l.Cn2, l.Z, l.V, l.Dir))
	}
	b.WriteString("#  PSD\n")
	p("sub_tip_tilt", c.PSD.SubTipTilt)
	p("scintillation", c.PSD.Scintillation)
	p("component", c.PSD.Component)
	b.WriteString("#  System\n")
	p("D", c.D)
	p("d_min", c.DMin)
	p("d_opt", m.d)
	p("optd", c.OptD)
	p("optd_delta", c.OptDDelta)
	p("mn_con", m.mnC)
	p("fit_mn_max", c.FitMNMax)
	p("circular_limit", c.CircularLimit)
	p("wfs", c.WFS)
	p("F0", c.F0)
	p("lam_wfs", c.LamWFS)
	p("npix_wfs", c.NpixWFS)
	p("bin_npix", c.BinNpix)
	p("ron_wfs", c.RonWFS)
	p("F_bg", c.Fbg)
	p("tau_wfs", c.TauWFS)
	p("min_tau_wfs", c.MinTauWFS)
	p("tau_opt", m.tau)
	p("opt_tau", c.OptTau)
	p("delta_tau", c.DeltaTau)
	p("lam_sci", c.LamSci)
	p("zeta", c.Zeta)
	p("ncp_wfe", c.NcpWFE)
	p("ncp_alpha", c.NcpAlpha)
	p("star_mag", c.StarMag)

	_, err := io.WriteString(w, b.String())
	return err
}

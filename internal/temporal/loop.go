package temporal

import (
	"math"
	"math/cmplx"
)

const (
	// gainGridPoints is the size of the frequency grid used to locate
	// phase crossings of the open-loop transfer function.
	gainGridPoints = 4096
	// gainMargin keeps optimised gains strictly below the stability limit.
	gainMargin = 1e-3
	// maxGainCap bounds gmax when no phase crossing is found.
	maxGainCap = 10.0
)

// Loop is the sampled AO control loop: WFS integration over one frame, a
// computational delay of one frame plus Delay, a zero-order hold and an
// integrator driving the FIR filter B(z).
type Loop struct {
	Fs    float64 // loop frequency [Hz]
	Delay float64 // latency beyond one frame [s]
}

// Period returns the frame time T.
func (l Loop) Period() float64 { return 1 / l.Fs }

// Open returns the open-loop transfer function at unit gain:
// L(f) = (1 - e^{-sT}) e^{-s tau_d} B(e^{-sT}) / (sT)^2, s = i 2 pi f.
func (l Loop) Open(f float64, b []float64) complex128 {
	base, z1 := l.kernel(f)
	return base * polyval(b, z1)
}

// kernel returns the B-independent factor of L and z^-1 = e^{-sT}.
func (l Loop) kernel(f float64) (base, z1 complex128) {
	t := l.Period()
	s := complex(0, 2*math.Pi*f)
	z1 = cmplx.Exp(-s * complex(t, 0))
	st := s * complex(t, 0)
	base = (1 - z1) * cmplx.Exp(-s*complex(t+l.Delay, 0)) / (st * st)
	return base, z1
}

// polyval evaluates B(z^-1) = sum_j b_j z^-j.
func polyval(b []float64, z1 complex128) complex128 {
	var sum complex128
	zp := complex(1, 0)
	for _, bj := range b {
		sum += complex(bj, 0) * zp
		zp *= z1
	}
	return sum
}

func abs2(c complex128) float64 {
	return real(c)*real(c) + imag(c)*imag(c)
}

// TF2 returns the squared moduli of the error and noise transfer
// functions ETF = 1/(1+gL) and NTF = gL/(1+gL) on freq.
func (l Loop) TF2(freq []float64, g float64, b []float64) (etf, ntf []float64) {
	etf = make([]float64, len(freq))
	ntf = make([]float64, len(freq))
	for i, f := range freq {
		lg := complex(g, 0) * l.Open(f, b)
		d := abs2(1 + lg)
		etf[i] = 1 / d
		ntf[i] = abs2(lg) / d
	}
	return etf, ntf
}

// MaxGain returns the largest stable gain for filter b: the smallest 1/|L|
// at the frequencies where the unwrapped phase of L crosses -pi mod 2 pi.
func (l Loop) MaxGain(b []float64) float64 {
	gmax := math.Inf(1)
	var prevF, prevPh float64
	have := false
	for i := 1; i <= gainGridPoints; i++ {
		f := l.Fs * float64(i) / gainGridPoints
		lf := l.Open(f, b)
		if lf == 0 {
			continue
		}
		ph := cmplx.Phase(lf)
		if have {
			ph = unwrapNear(ph, prevPh)
			if k := crossIndex(ph); k != crossIndex(prevPh) {
				target := 2*math.Pi*float64(max(k, crossIndex(prevPh))) - math.Pi
				fc := l.refineCrossing(b, prevF, f, prevPh, ph, target)
				if a := cmplx.Abs(l.Open(fc, b)); a > 0 {
					gmax = math.Min(gmax, 1/a)
				}
			}
		}
		prevF, prevPh, have = f, ph, true
	}
	if math.IsInf(gmax, 1) {
		return maxGainCap
	}
	return gmax
}

// crossIndex numbers the 2 pi wide phase bands bounded by -pi mod 2 pi.
func crossIndex(ph float64) int {
	return int(math.Floor((ph + math.Pi) / (2 * math.Pi)))
}

// unwrapNear shifts ph by multiples of 2 pi to lie within pi of ref.
func unwrapNear(ph, ref float64) float64 {
	return ph + 2*math.Pi*math.Round((ref-ph)/(2*math.Pi))
}

// refineCrossing bisects [fa, fb] for the frequency at which the unwrapped
// phase equals target.
func (l Loop) refineCrossing(b []float64, fa, fb, pa, pb, target float64) float64 {
	above := pa > target
	for i := 0; i < 50; i++ {
		fm := 0.5 * (fa + fb)
		ref := pa + (pb-pa)*(fm-fa)/(fb-fa)
		pm := unwrapNear(cmplx.Phase(l.Open(fm, b)), ref)
		if (pm > target) == above {
			fa, pa = fm, pm
		} else {
			fb, pb = fm, pm
		}
	}
	return 0.5 * (fa + fb)
}

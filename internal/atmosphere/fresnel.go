package atmosphere

import "math"

// Fresnel propagation of each layer to the pupil mixes phase and
// amplitude. For a layer at altitude z the phase part of the spectrum is
// weighted by cos^2(pi z sec(zeta) lambda k^2) and the amplitude part by sin^2.

func fresnelArg(z, secZeta, lam, k float64) float64 {
	return math.Pi * z * secZeta * lam * k * k
}

// X returns the phase fraction of the spectrum at spatial frequency k.
func (p *Profile) X(k, lam, secZeta float64) float64 {
	var s float64
	for _, l := range p.layers {
		c := math.Cos(fresnelArg(l.Z, secZeta, lam, k))
		s += l.Cn2 * c * c
	}
	return s
}

// Y returns the amplitude (scintillation) fraction of the spectrum.
func (p *Profile) Y(k, lam, secZeta float64) float64 {
	var s float64
	for _, l := range p.layers {
		c := math.Sin(fresnelArg(l.Z, secZeta, lam, k))
		s += l.Cn2 * c * c
	}
	return s
}

// DX returns the chromatic phase difference between wavelengths lamI and
// lamW after propagation.
func (p *Profile) DX(k, lamI, lamW, secZeta float64) float64 {
	var s float64
	for _, l := range p.layers {
		d := math.Cos(fresnelArg(l.Z, secZeta, lamI, k)) - math.Cos(fresnelArg(l.Z, secZeta, lamW, k))
		s += l.Cn2 * d * d
	}
	return s
}

// DY returns the chromatic amplitude difference between wavelengths lamI
// and lamW after propagation.
func (p *Profile) DY(k, lamI, lamW, secZeta float64) float64 {
	var s float64
	for _, l := range p.layers {
		d := math.Sin(fresnelArg(l.Z, secZeta, lamI, k)) - math.Sin(fresnelArg(l.Z, secZeta, lamW, k))
		s += l.Cn2 * d * d
	}
	return s
}

// DispersionShift returns the weighted dispersion phase factor for a
// Fourier mode with index m along the dispersion direction:
// sum_i w_i 2(1 - cos(2 pi m delta_i / D)), where delta_i is the lateral
// separation of the two wavelengths' beams at layer i.
func (p *Profile) DispersionShift(m, d, zeta, lamSci, lamWFS float64) float64 {
	dn := RefractiveIndex(lamWFS) - RefractiveIndex(lamSci)
	sec := 1 / math.Cos(zeta)
	var s float64
	for _, l := range p.layers {
		delta := l.Z * sec * math.Tan(zeta) * dn
		s += l.Cn2 * 2 * (1 - math.Cos(2*math.Pi*m*delta/d))
	}
	return s
}

// RefractiveIndex returns n(lam) for standard dry air (15 C, 101325 Pa)
// from Edlen (1966). lam is in meters.
func RefractiveIndex(lam float64) float64 {
	sig2 := math.Pow(1e-6/lam, 2) // inverse microns squared
	return 1 + 1e-8*(8342.13+2406030/(130-sig2)+15997/(38.9-sig2))
}

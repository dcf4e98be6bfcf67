// Package atmosphere models a layered turbulent atmosphere: per-layer
// turbulence strength, altitude and wind, plus the aggregate Fried
// parameter and outer scale used by the spatial PSD model.
package atmosphere

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrLayerMismatch is returned when layer vectors have different lengths.
var ErrLayerMismatch = errors.New("atmosphere: layer vectors must have equal length")

// Layer is a single turbulent layer.
type Layer struct {
	Cn2 float64 // fractional turbulence strength
	Z   float64 // altitude [m]
	V   float64 // wind speed [m/s]
	Dir float64 // wind direction [rad]
}

// Profile is an ordered set of layers plus the global turbulence strength
// and outer scale. Layer weights always sum to one; the absolute Cn^2
// integral is kept consistent with r0 at Lam0.
type Profile struct {
	layers []Layer
	r0     float64
	l0     float64
	lam0   float64
}

// DefaultLam0 is the reference wavelength used when none is configured.
const DefaultLam0 = 0.5e-6

// NewProfile builds a profile from parallel layer vectors. cn2 may be
// relative weights or absolute values; it is normalised.
func NewProfile(r0, l0, lam0 float64, cn2, z, v, dir []float64) (*Profile, error) {
	layers, err := buildLayers(cn2, z, v, dir)
	if err != nil {
		return nil, err
	}
	if lam0 <= 0 {
		lam0 = DefaultLam0
	}
	p := &Profile{layers: layers, r0: r0, l0: l0, lam0: lam0}
	return p, nil
}

// SingleLayer is a convenience constructor for a one-layer atmosphere.
func SingleLayer(r0, lam0, v float64) *Profile {
	p, _ := NewProfile(r0, 0, lam0, []float64{1}, []float64{0}, []float64{v}, []float64{0})
	return p
}

func buildLayers(cn2, z, v, dir []float64) ([]Layer, error) {
	n := len(cn2)
	if len(z) != n || len(v) != n || len(dir) != n {
		return nil, fmt.Errorf("%w: cn2=%d z=%d v=%d dir=%d", ErrLayerMismatch, len(cn2), len(z), len(v), len(dir))
	}
	if n == 0 {
		return nil, errors.New("atmosphere: at least one layer is required")
	}
	sum := floats.Sum(cn2)
	if sum <= 0 {
		return nil, errors.New("atmosphere: layer Cn2 must sum to a positive value")
	}
	layers := make([]Layer, n)
	for i := range layers {
		if cn2[i] < 0 {
			return nil, fmt.Errorf("atmosphere: layer %d has negative Cn2 %g", i, cn2[i])
		}
		layers[i] = Layer{Cn2: cn2[i] / sum, Z: z[i], V: v[i], Dir: dir[i]}
	}
	return layers, nil
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	c := *p
	c.layers = append([]Layer(nil), p.layers...)
	return &c
}

// Layers returns a copy of the layers.
func (p *Profile) Layers() []Layer {
	return append([]Layer(nil), p.layers...)
}

// NumLayers returns the number of layers.
func (p *Profile) NumLayers() int { return len(p.layers) }

// Lam0 returns the reference wavelength for r0.
func (p *Profile) Lam0() float64 { return p.lam0 }

// R0 returns Fried's parameter at Lam0.
func (p *Profile) R0() float64 { return p.r0 }

// R0At returns Fried's parameter scaled to wavelength lam.
func (p *Profile) R0At(lam float64) float64 {
	return p.r0 * math.Pow(lam/p.lam0, 6.0/5.0)
}

// L0 returns the outer scale. Zero or negative means infinite.
func (p *Profile) L0() float64 { return p.l0 }

// SetL0 sets the outer scale.
func (p *Profile) SetL0(l0 float64) { p.l0 = l0 }

// SetR0 sets r0 measured at wavelength lam. A non-positive lam means Lam0.
func (p *Profile) SetR0(r0, lam float64) {
	if lam <= 0 {
		lam = p.lam0
	}
	p.r0 = r0 * math.Pow(p.lam0/lam, 6.0/5.0)
}

// SetLam0 changes the reference wavelength, keeping the physical
// turbulence strength fixed.
func (p *Profile) SetLam0(lam0 float64) {
	if lam0 <= 0 {
		return
	}
	p.r0 = p.R0At(lam0)
	p.lam0 = lam0
}

// Cn2Total returns the integrated Cn^2 [m^(1/3)] consistent with r0 at Lam0.
func (p *Profile) Cn2Total() float64 {
	k := 2 * math.Pi / p.lam0
	return math.Pow(p.r0, -5.0/3.0) / (0.423 * k * k)
}

// LayerCn2 returns the absolute per-layer Cn^2 values.
func (p *Profile) LayerCn2() []float64 {
	total := p.Cn2Total()
	out := make([]float64, len(p.layers))
	for i, l := range p.layers {
		out[i] = l.Cn2 * total
	}
	return out
}

// SetLayerCn2 sets per-layer absolute Cn^2 values, re-deriving r0 at
// wavelength lam (Lam0 when lam <= 0).
func (p *Profile) SetLayerCn2(cn2 []float64, lam float64) error {
	if len(cn2) != len(p.layers) {
		return fmt.Errorf("%w: cn2=%d layers=%d", ErrLayerMismatch, len(cn2), len(p.layers))
	}
	sum := floats.Sum(cn2)
	if sum <= 0 {
		return errors.New("atmosphere: layer Cn2 must sum to a positive value")
	}
	if lam > 0 {
		p.lam0 = lam
	}
	for i := range p.layers {
		p.layers[i].Cn2 = cn2[i] / sum
	}
	k := 2 * math.Pi / p.lam0
	p.r0 = math.Pow(0.423*k*k*sum, -3.0/5.0)
	return nil
}

// Weights returns the normalised layer weights.
func (p *Profile) Weights() []float64 {
	out := make([]float64, len(p.layers))
	for i, l := range p.layers {
		out[i] = l.Cn2
	}
	return out
}

// SetLayerV replaces the layer wind speeds.
func (p *Profile) SetLayerV(v []float64) error {
	if len(v) != len(p.layers) {
		return fmt.Errorf("%w: v=%d layers=%d", ErrLayerMismatch, len(v), len(p.layers))
	}
	for i := range p.layers {
		p.layers[i].V = v[i]
	}
	return nil
}

// SetLayerDir replaces the layer wind directions.
func (p *Profile) SetLayerDir(dir []float64) error {
	if len(dir) != len(p.layers) {
		return fmt.Errorf("%w: dir=%d layers=%d", ErrLayerMismatch, len(dir), len(p.layers))
	}
	for i := range p.layers {
		p.layers[i].Dir = dir[i]
	}
	return nil
}

// SetLayerZ replaces the layer altitudes.
func (p *Profile) SetLayerZ(z []float64) error {
	if len(z) != len(p.layers) {
		return fmt.Errorf("%w: z=%d layers=%d", ErrLayerMismatch, len(z), len(p.layers))
	}
	for i := range p.layers {
		p.layers[i].Z = z[i]
	}
	return nil
}

// moment53 returns the Cn^2-weighted 5/3 moment of get.
func (p *Profile) moment53(get func(Layer) float64) float64 {
	var s float64
	for _, l := range p.layers {
		s += l.Cn2 * math.Pow(math.Abs(get(l)), 5.0/3.0)
	}
	return math.Pow(s, 3.0/5.0)
}

// VWind returns the 5/3-moment mean wind speed.
func (p *Profile) VWind() float64 {
	return p.moment53(func(l Layer) float64 { return l.V })
}

// ZMean returns the 5/3-moment mean layer altitude.
func (p *Profile) ZMean() float64 {
	return p.moment53(func(l Layer) float64 { return l.Z })
}

// SetVWind rescales every layer speed by v/VWind().
func (p *Profile) SetVWind(v float64) error {
	cur := p.VWind()
	if cur == 0 {
		return errors.New("atmosphere: cannot rescale wind, all layer speeds are zero")
	}
	f := v / cur
	for i := range p.layers {
		p.layers[i].V *= f
	}
	return nil
}

// SetZMean rescales every layer altitude by z/ZMean().
func (p *Profile) SetZMean(z float64) error {
	cur := p.ZMean()
	if cur == 0 {
		return errors.New("atmosphere: cannot rescale altitudes, all layers are at zero height")
	}
	f := z / cur
	for i := range p.layers {
		p.layers[i].Z *= f
	}
	return nil
}

// MaxV returns the fastest layer wind speed.
func (p *Profile) MaxV() float64 {
	var m float64
	for _, l := range p.layers {
		m = math.Max(m, math.Abs(l.V))
	}
	return m
}

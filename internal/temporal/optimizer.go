package temporal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/aosystem/internal/monitoring"
	"github.com/banshee-data/aosystem/internal/sweep"
)

// ControllerKind tags the controller variant.
type ControllerKind int

const (
	SingleIntegrator ControllerKind = iota
	LinearPredictor
)

func (k ControllerKind) String() string {
	if k == LinearPredictor {
		return "LP"
	}
	return "SI"
}

// Controller is an optimised loop controller. A single integrator has
// Coefficients [1].
type Controller struct {
	Kind         ControllerKind
	Gain         float64
	Coefficients []float64
}

// Result is the closed-loop analysis of one mode.
type Result struct {
	M, N       int
	Freq       []float64
	OpenLoop   []float64
	Noise      []float64
	ETF        []float64 // |ETF|^2
	NTF        []float64 // |NTF|^2
	Controller Controller
	Variance   float64
}

// Residual returns the closed-loop residual PSD |ETF|^2 P_ol + |NTF|^2 P_n.
func (r Result) Residual() []float64 {
	out := make([]float64, len(r.Freq))
	for i := range out {
		out[i] = r.ETF[i]*r.OpenLoop[i] + r.NTF[i]*r.Noise[i]
	}
	return out
}

// errNotPositiveDefinite is returned when the autocorrelation matrix
// cannot be factorised.
var errNotPositiveDefinite = errors.New("autocorrelation matrix is not positive definite")

// Optimizer chooses controller gains for a loop on a fixed grid.
type Optimizer struct {
	Loop Loop
	Grid Grid

	base []complex128
	z1   []complex128
}

// NewOptimizer precomputes the loop kernel on g.
func NewOptimizer(l Loop, g Grid) *Optimizer {
	o := &Optimizer{
		Loop: l,
		Grid: g,
		base: make([]complex128, len(g.Freq)),
		z1:   make([]complex128, len(g.Freq)),
	}
	for i, f := range g.Freq {
		o.base[i], o.z1[i] = l.kernel(f)
	}
	return o
}

// Variance returns sum_i (|ETF_i|^2 P_ol,i + |NTF_i|^2 P_n,i) df for gain g
// and filter b.
func (o *Optimizer) Variance(g float64, b, ol, noise []float64) float64 {
	var s float64
	for i := range o.base {
		lg := complex(g, 0) * o.base[i] * polyval(b, o.z1[i])
		s += (ol[i] + abs2(lg)*noise[i]) / abs2(1+lg)
	}
	return s * o.Grid.Df
}

// bestGain optimises the gain of filter b inside (0, gmax).
func (o *Optimizer) bestGain(b, ol, noise []float64) (g, v float64) {
	gmax := o.Loop.MaxGain(b)
	f := func(g float64) float64 { return o.Variance(g, b, ol, noise) }
	return sweep.ScanMinimize(f, gmax*1e-3, gmax*(1-gainMargin), 30)
}

// Integrator optimises a single integrator.
func (o *Optimizer) Integrator(ol, noise []float64) (Controller, float64) {
	b := []float64{1}
	g, v := o.bestGain(b, ol, noise)
	return Controller{Kind: SingleIntegrator, Gain: g, Coefficients: b}, v
}

// regularizations are the noise weights r of the predictor candidates
// built from P_ol + r P_n.
var regularizations = sweep.LogSpace(1e-2, 1e2, 9)

// Predictor optimises a linear predictor with nc coefficients and returns
// it if it beats the single integrator; otherwise the integrator is
// returned. nc <= 1 skips the predictor.
func (o *Optimizer) Predictor(ol, noise []float64, nc int) (Controller, float64) {
	best, bestVar := o.Integrator(ol, noise)
	if nc <= 1 {
		return best, bestVar
	}

	start := make([]float64, nc)
	start[0] = 1
	startGain, startVar := best.Gain, bestVar

	for _, r := range regularizations {
		s := make([]float64, len(ol))
		for i := range s {
			s[i] = ol[i] + r*noise[i]
		}
		b, err := YuleWalker(s, nc)
		if err != nil {
			monitoring.Logf("predictor: r=%g: %v", r, err)
			continue
		}
		g, v := o.bestGain(b, ol, noise)
		if v < startVar {
			start, startGain, startVar = b, g, v
		}
	}

	b, g, v := o.polish(start, startGain, startVar, bestVar, ol, noise)
	if v < bestVar {
		return Controller{Kind: LinearPredictor, Gain: g, Coefficients: b}, v
	}
	return best, bestVar
}

// polish refines gain and coefficients with Nelder-Mead. The first
// coefficient is fixed by sum(b) = 1; unstable points are penalised.
func (o *Optimizer) polish(b0 []float64, g0, v0, siVar float64, ol, noise []float64) ([]float64, float64, float64) {
	nc := len(b0)
	penalty := 10*siVar + 1
	coeffs := func(x []float64) []float64 {
		b := make([]float64, nc)
		copy(b[1:], x[1:])
		var s float64
		for _, v := range x[1:] {
			s += v
		}
		b[0] = 1 - s
		return b
	}
	obj := func(x []float64) float64 {
		g := x[0]
		b := coeffs(x)
		if g <= 0 {
			return penalty * (1 - g)
		}
		if gmax := o.Loop.MaxGain(b); g >= gmax*(1-gainMargin) {
			return penalty * (1 + g - gmax)
		}
		v := o.Variance(g, b, ol, noise)
		if math.IsNaN(v) {
			return penalty
		}
		return v
	}

	x0 := make([]float64, nc)
	x0[0] = g0
	copy(x0[1:], b0[1:])
	res, err := optimize.Minimize(optimize.Problem{Func: obj}, x0,
		&optimize.Settings{FuncEvaluations: 400}, &optimize.NelderMead{})
	if err != nil || res == nil || !(res.F < v0) {
		return b0, g0, v0
	}
	b := coeffs(res.X)
	g := res.X[0]
	if g <= 0 || g >= o.Loop.MaxGain(b)*(1-gainMargin) {
		return b0, g0, v0
	}
	return b, g, o.Variance(g, b, ol, noise)
}

// Optimize returns the closed-loop result for mode (mm, nn): a single
// integrator, or the better of it and a linear predictor when nc > 1.
func (o *Optimizer) Optimize(mm, nn int, ol, noise []float64, nc int) Result {
	c, v := o.Predictor(ol, noise, nc)
	etf, ntf := o.Loop.TF2(o.Grid.Freq, c.Gain, c.Coefficients)
	return Result{
		M: mm, N: nn,
		Freq:       o.Grid.Freq,
		OpenLoop:   ol,
		Noise:      noise,
		ETF:        etf,
		NTF:        ntf,
		Controller: c,
		Variance:   v,
	}
}

// Autocorrelation returns the first n+1 lags of the autocorrelation of a
// one-sided PSD sampled at f_i = i df, i >= 1, normalised to lag 0.
func Autocorrelation(p []float64, n int) ([]float64, error) {
	size := 2 * len(p)
	if size < 2 || n >= size {
		return nil, fmt.Errorf("autocorrelation: %d lags from %d bins", n, len(p))
	}
	coeff := make([]complex128, size/2+1)
	for i, v := range p {
		coeff[i+1] = complex(v, 0)
	}
	seq := fourier.NewFFT(size).Sequence(nil, coeff)
	if !(seq[0] > 0) {
		return nil, fmt.Errorf("autocorrelation: zero power")
	}
	out := make([]float64, n+1)
	for i := range out {
		out[i] = seq[i] / seq[0]
	}
	return out, nil
}

// YuleWalker returns the nc-tap one-step predictor of a process with
// one-sided PSD p, normalised so the coefficients sum to one.
func YuleWalker(p []float64, nc int) ([]float64, error) {
	r, err := Autocorrelation(p, nc)
	if err != nil {
		return nil, err
	}
	t := mat.NewSymDense(nc, nil)
	for i := 0; i < nc; i++ {
		for j := i; j < nc; j++ {
			v := r[j-i]
			if i == j {
				v *= 1 + 1e-9
			}
			t.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(t); !ok {
		return nil, errNotPositiveDefinite
	}
	var a mat.VecDense
	if err := chol.SolveVecTo(&a, mat.NewVecDense(nc, append([]float64(nil), r[1:nc+1]...))); err != nil {
		return nil, fmt.Errorf("yule-walker solve: %w", err)
	}
	b := make([]float64, nc)
	var sum float64
	for i := range b {
		b[i] = a.AtVec(i)
		sum += b[i]
	}
	if math.Abs(sum) < 1e-12 {
		return nil, fmt.Errorf("yule-walker: coefficients sum to zero")
	}
	for i := range b {
		b[i] /= sum
	}
	return b, nil
}

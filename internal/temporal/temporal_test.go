package temporal

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/atmosphere"
	"github.com/banshee-data/aosystem/internal/wfs"
)

func testModel(t *testing.T, atm *atmosphere.Profile) *aosys.Model {
	t.Helper()
	if atm == nil {
		atm = atmosphere.SingleLayer(0.15, 0.5e-6, 10)
	}
	m, err := aosys.NewModel(aosys.Config{
		Atm:       atm,
		WFS:       wfs.WFS{Kind: wfs.Ideal},
		D:         8,
		DMin:      0.25,
		F0:        1.75e9,
		LamWFS:    0.8e-6,
		NpixWFS:   4,
		RonWFS:    0.5,
		MinTauWFS: 1e-3,
		LamSci:    0.8e-6,
		FitMNMax:  20,
		StarMag:   8,
	})
	require.NoError(t, err)
	return m
}

func testGrid(t *testing.T) Grid {
	t.Helper()
	g, err := NewGrid(1000, 0.1)
	require.NoError(t, err)
	return g
}

func TestNewGrid(t *testing.T) {
	g, err := NewGrid(1000, 0.1)
	require.NoError(t, err)
	require.Len(t, g.Freq, 5000)
	assert.InDelta(t, 0.1, g.Freq[0], 1e-12)
	assert.InDelta(t, 500, g.Freq[len(g.Freq)-1], 1e-9)

	for _, tc := range []struct{ fs, df float64 }{{0, 0.1}, {1000, 0}, {1000, -1}, {10, 20}} {
		_, err := NewGrid(tc.fs, tc.df)
		assert.True(t, errors.Is(err, aosys.ErrPrecondition), "fs=%g df=%g", tc.fs, tc.df)
	}
}

func TestOpenLoopConservesEnergy(t *testing.T) {
	m := testModel(t, nil)
	g := testGrid(t)
	e := NewEngine(m, 0)

	for _, mode := range [][2]int{{1, 0}, {3, -2}, {0, 7}} {
		p := e.OpenLoop(mode[0], mode[1], g)
		want := m.PhaseVar(mode[0], mode[1])
		require.Greater(t, want, 0.0)
		assert.InEpsilon(t, want, g.Integral(p), 1e-9, "mode %v", mode)
		for _, v := range p {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestOpenLoopTail(t *testing.T) {
	m := testModel(t, nil)
	g := testGrid(t)
	e := NewEngine(m, 0)

	p := e.OpenLoop(1, 0, g)
	fc := e.Cutoff(1, 0, g)
	assert.InDelta(t, 10*(1.0/8+4.0/8), fc, 1e-12)

	nc := int(math.Floor(fc/g.Df + 1e-9))
	for i := nc; i < len(p); i++ {
		assert.LessOrEqual(t, p[i], p[i-1])
		want := p[nc-1] * math.Pow(g.Freq[i]/g.Freq[nc-1], -17.0/3.0)
		assert.InEpsilon(t, want, p[i], 1e-9)
	}
}

func TestOpenLoopFrozenLayer(t *testing.T) {
	m := testModel(t, atmosphere.SingleLayer(0.15, 0.5e-6, 0))
	g := testGrid(t)
	p := NewEngine(m, 0).OpenLoop(2, 1, g)
	assert.InEpsilon(t, m.PhaseVar(2, 1), p[0]*g.Df, 1e-12)
	for _, v := range p[1:] {
		assert.Equal(t, 0.0, v)
	}
}

func TestNoisePSDIntegratesToVariance(t *testing.T) {
	m := testModel(t, nil)
	g := testGrid(t)
	n := NewEngine(m, 0).NoisePSD(1, 0, g)
	assert.InEpsilon(t, m.NoiseVar(1, 0, 1/g.Fs), g.Integral(n), 1e-9)
}

func TestMaxGainIntegrator(t *testing.T) {
	l := Loop{Fs: 1000}
	// With a single frame of delay the phase crosses -pi at fs/6.
	assert.InDelta(t, math.Pi*math.Pi/9, l.MaxGain([]float64{1}), 1e-6)

	slower := Loop{Fs: 1000, Delay: 1e-3}
	assert.Less(t, slower.MaxGain([]float64{1}), l.MaxGain([]float64{1}))
}

func TestTransferFunctionLimits(t *testing.T) {
	g := testGrid(t)
	l := Loop{Fs: g.Fs}
	etf, ntf := l.TF2(g.Freq, 1e-12, []float64{1})
	for i := range etf {
		assert.InDelta(t, 1, etf[i], 1e-6)
		assert.InDelta(t, 0, ntf[i], 1e-6)
	}

	// Rejection at low frequency for a working gain.
	etf, _ = l.TF2(g.Freq, 0.5, []float64{1})
	assert.Less(t, etf[0], 1e-3)
}

func TestIntegratorGain(t *testing.T) {
	m := testModel(t, nil)
	g := testGrid(t)
	e := NewEngine(m, 0)
	ol := e.OpenLoop(1, 0, g)
	noise := e.NoisePSD(1, 0, g)

	o := NewOptimizer(Loop{Fs: g.Fs}, g)
	c, v := o.Integrator(ol, noise)
	gmax := o.Loop.MaxGain([]float64{1})

	assert.Equal(t, SingleIntegrator, c.Kind)
	assert.Equal(t, []float64{1}, c.Coefficients)
	assert.Greater(t, c.Gain, 0.0)
	assert.LessOrEqual(t, c.Gain, gmax)
	assert.InDelta(t, o.Variance(c.Gain, c.Coefficients, ol, noise), v, 1e-15)
	for _, gain := range []float64{0.01 * gmax, 0.3 * gmax, 0.9 * gmax} {
		assert.LessOrEqual(t, v, o.Variance(gain, []float64{1}, ol, noise)*(1+1e-9))
	}
	assert.Less(t, v, g.Integral(ol))
}

func TestPredictorNeverWorseThanIntegrator(t *testing.T) {
	m := testModel(t, nil)
	g := testGrid(t)
	e := NewEngine(m, 0)
	o := NewOptimizer(Loop{Fs: g.Fs}, g)

	for _, mode := range [][2]int{{1, 0}, {5, 5}} {
		ol := e.OpenLoop(mode[0], mode[1], g)
		noise := e.NoisePSD(mode[0], mode[1], g)
		_, si := o.Integrator(ol, noise)
		c, lp := o.Predictor(ol, noise, 3)
		assert.LessOrEqual(t, lp, si, "mode %v", mode)
		if c.Kind == LinearPredictor {
			require.Len(t, c.Coefficients, 3)
			var s float64
			for _, b := range c.Coefficients {
				s += b
			}
			assert.InDelta(t, 1, s, 1e-9)
			assert.Less(t, c.Gain, o.Loop.MaxGain(c.Coefficients))
		}
	}

	ol := e.OpenLoop(1, 0, g)
	c, _ := o.Predictor(ol, e.NoisePSD(1, 0, g), 1)
	assert.Equal(t, SingleIntegrator, c.Kind)
}

func TestOptimizeResult(t *testing.T) {
	m := testModel(t, nil)
	g := testGrid(t)
	e := NewEngine(m, 0)
	o := NewOptimizer(Loop{Fs: g.Fs, Delay: 0.5e-3}, g)

	ol := e.OpenLoop(2, 0, g)
	noise := e.NoisePSD(2, 0, g)
	r := o.Optimize(2, 0, ol, noise, 1)
	require.Len(t, r.ETF, len(g.Freq))
	require.Len(t, r.NTF, len(g.Freq))
	assert.InEpsilon(t, r.Variance, g.Integral(r.Residual()), 1e-9)
}

func TestAutocorrelationAndYuleWalker(t *testing.T) {
	flat := make([]float64, 1000)
	for i := range flat {
		flat[i] = 1
	}
	r, err := Autocorrelation(flat, 4)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r[0])
	for _, v := range r[1:] {
		assert.Less(t, math.Abs(v), 1e-2)
	}

	// A red spectrum is strongly correlated and predicts forward.
	red := make([]float64, 1000)
	for i := range red {
		red[i] = math.Pow(float64(i+1), -2)
	}
	b, err := YuleWalker(red, 3)
	require.NoError(t, err)
	require.Len(t, b, 3)
	assert.InDelta(t, 1, b[0]+b[1]+b[2], 1e-12)

	_, err = Autocorrelation(make([]float64, 10), 2)
	assert.Error(t, err)
}

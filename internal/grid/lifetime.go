package grid

import (
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/aosystem/internal/temporal"
)

// DefaultLifetimeThreshold is the autocorrelation level that ends a lifetime.
var DefaultLifetimeThreshold = 1 / math.E

// LifetimeSampler estimates the coherence time of a mode from random time
// series drawn with its temporal PSD.
type LifetimeSampler struct {
	Grid      temporal.Grid
	Trials    int
	Threshold float64
	Seed      uint64
}

// Sample returns the mean and standard deviation over trials of the first
// lag [s] at which the normalised autocorrelation of a realisation drops
// below the threshold. stream separates the random sequences of different
// modes.
func (s LifetimeSampler) Sample(psd []float64, stream uint64) (mean, std float64) {
	if s.Trials <= 0 || len(psd) == 0 {
		return 0, 0
	}
	thr := s.Threshold
	if thr <= 0 {
		thr = DefaultLifetimeThreshold
	}

	n := 2 * len(psd)
	dt := 1 / (float64(n) * s.Grid.Df)
	fft := fourier.NewFFT(n)
	coeff := make([]complex128, n/2+1)
	series := make([]float64, n)
	power := make([]complex128, n/2+1)
	acf := make([]float64, n)

	lifetimes := make([]float64, s.Trials)
	for trial := range lifetimes {
		src := rand.NewPCG(s.Seed^stream, uint64(trial))
		normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		for i, p := range psd {
			amp := math.Sqrt(math.Max(p, 0) * s.Grid.Df / 2)
			coeff[i+1] = complex(amp*normal.Rand(), amp*normal.Rand())
		}
		fft.Sequence(series, coeff)

		for i, c := range fft.Coefficients(power, series) {
			a := cmplx.Abs(c)
			power[i] = complex(a*a, 0)
		}
		fft.Sequence(acf, power)

		lag := n / 2
		if acf[0] > 0 {
			for k := 1; k < n/2; k++ {
				if acf[k]/acf[0] < thr {
					lag = k
					break
				}
			}
		}
		lifetimes[trial] = float64(lag) * dt
	}
	if len(lifetimes) == 1 {
		return lifetimes[0], 0
	}
	return stat.MeanStdDev(lifetimes, nil)
}

package sweep

import "math"

var invPhi = (math.Sqrt(5) - 1) / 2

// GoldenSection minimises a unimodal f on [lo, hi] and returns the
// abscissa and value of the minimum. The result always lies inside the
// closed interval.
func GoldenSection(f func(float64) float64, lo, hi, tol float64) (x, fx float64) {
	if hi < lo {
		lo, hi = hi, lo
	}
	if tol <= 0 {
		tol = 1e-8 * math.Max(1, math.Abs(hi))
	}
	a, b := lo, hi
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for i := 0; i < 200 && b-a > tol; i++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	if fc < fd {
		return c, fc
	}
	return d, fd
}

// ScanMinimize evaluates f on a logarithmic grid of n points between lo and
// hi, then refines around the best point with a golden-section search.
// It copes with objectives that are not unimodal over the whole interval.
func ScanMinimize(f func(float64) float64, lo, hi float64, n int) (x, fx float64) {
	grid := LogSpace(lo, hi, n)
	if len(grid) == 0 {
		return lo, f(lo)
	}
	best := 0
	vals := make([]float64, len(grid))
	for i, g := range grid {
		vals[i] = f(g)
		if vals[i] < vals[best] {
			best = i
		}
	}
	a := grid[max(best-1, 0)]
	b := grid[min(best+1, len(grid)-1)]
	x, fx = GoldenSection(f, a, b, 1e-6*grid[best])
	if vals[best] < fx {
		return grid[best], vals[best]
	}
	return x, fx
}

// Package report renders analysis results: plain-text tables for standard
// output, PNG figures with gonum/plot and interactive HTML charts with
// go-echarts.
package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/temporal"
	"github.com/banshee-data/aosystem/internal/units"
)

// ErrRagged is returned when columns or map rows differ in length.
var ErrRagged = errors.New("report: ragged input")

// WriteBudget prints the five-line budget of a single star magnitude.
// Errors are rms in unit at the science wavelength lamSci.
func WriteBudget(w io.Writer, b aosys.Budget, unit string, lamSci float64) error {
	bw := bufio.NewWriter(w)
	wfe := func(t aosys.Term) float64 { return units.ConvertWFE(b.Terms[t], lamSci, unit) }
	fmt.Fprintf(bw, "Measurement: %g\n", wfe(aosys.Measurement))
	fmt.Fprintf(bw, "Time-delay:  %g\n", wfe(aosys.TimeDelay))
	fmt.Fprintf(bw, "Fitting:     %g\n", wfe(aosys.Fitting))
	fmt.Fprintf(bw, "NCP error:   %g\n", wfe(aosys.NCP))
	fmt.Fprintf(bw, "Strehl:      %g\n", b.Strehl)
	return bw.Flush()
}

// WriteBudgetSweep prints a single header row and then one row per star
// magnitude.
func WriteBudgetSweep(w io.Writer, bs []aosys.Budget, unit string, lamSci float64) error {
	bw := bufio.NewWriter(w)
	header := []string{"mag", "d_opt"}
	for _, t := range aosys.Terms {
		header = append(header, string(t))
	}
	header = append(header, "Strehl")
	fmt.Fprintf(bw, "#%s\n", strings.Join(header, "\t"))

	for _, b := range bs {
		fmt.Fprintf(bw, "%g\t%g", b.StarMag, b.DOpt)
		for _, t := range aosys.Terms {
			fmt.Fprintf(bw, "\t%g", units.ConvertWFE(b.Terms[t], lamSci, unit))
		}
		fmt.Fprintf(bw, "\t%g\n", b.Strehl)
	}
	return bw.Flush()
}

// WriteColumns prints a "# name name ..." header followed by one
// space-separated row per index. All columns must have the same length.
func WriteColumns(w io.Writer, header []string, cols ...[]float64) error {
	n, err := columnLen(cols)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if len(header) > 0 {
		fmt.Fprintf(bw, "# %s\n", strings.Join(header, " "))
	}
	for i := 0; i < n; i++ {
		for j, c := range cols {
			if j > 0 {
				bw.WriteByte(' ')
			}
			fmt.Fprintf(bw, "%g", c[i])
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func columnLen(cols [][]float64) (int, error) {
	if len(cols) == 0 {
		return 0, nil
	}
	n := len(cols[0])
	for i, c := range cols[1:] {
		if len(c) != n {
			return 0, fmt.Errorf("%w: column %d has %d rows, want %d", ErrRagged, i+1, len(c), n)
		}
	}
	return n, nil
}

// Index returns 0, 1, ..., n-1 as floats for use as a leading column.
func Index(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

// WriteTemporalPSD prints the single-mode temporal analysis: a comment
// block with the optimised controllers followed by the frequency table.
// lp may be nil when no predictor was requested, in which case its
// columns hold -1.
func WriteTemporalPSD(w io.Writer, si temporal.Result, lp *temporal.Result, nc int) error {
	g := temporal.Grid{Df: freqStep(si.Freq)}
	lpGain, lpVar := -1.0, -1.0
	if lp != nil {
		lpGain, lpVar = lp.Controller.Gain, lp.Variance
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# aoSystem single temporal PSD\n")
	fmt.Fprintf(bw, "#    mode = (%d, %d)\n", si.M, si.N)
	fmt.Fprintf(bw, "#    var OL = %g\n", g.Integral(si.OpenLoop))
	fmt.Fprintf(bw, "#    opt-gain SI = %g\n", si.Controller.Gain)
	fmt.Fprintf(bw, "#    var SI = %g\n", si.Variance)
	fmt.Fprintf(bw, "#    LP Num. coeff = %d\n", nc)
	fmt.Fprintf(bw, "#    opt-gain LP = %g\n", lpGain)
	fmt.Fprintf(bw, "#    var LP = %g\n", lpVar)
	if lp != nil {
		fmt.Fprintf(bw, "#    LP coeff = %v\n", lp.Controller.Coefficients)
	}
	fmt.Fprintf(bw, "#################################################################\n")
	if err := bw.Flush(); err != nil {
		return err
	}

	etfLP, ntfLP := constant(len(si.Freq), -1), constant(len(si.Freq), -1)
	if lp != nil {
		etfLP, ntfLP = lp.ETF, lp.NTF
	}
	return WriteColumns(w,
		[]string{"freq", "PSD-OL", "PSD-N", "ETF-SI", "NTF-SI", "ETF-LP", "NTF-LP"},
		si.Freq, si.OpenLoop, si.Noise, si.ETF, si.NTF, etfLP, ntfLP)
}

func freqStep(f []float64) float64 {
	if len(f) > 1 {
		return f[1] - f[0]
	}
	if len(f) == 1 {
		return f[0]
	}
	return 0
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

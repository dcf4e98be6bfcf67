package report

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Series is a named curve sampled on a shared abscissa.
type Series struct {
	Name string
	Y    []float64
}

const pngDPI = 96

func writePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	c := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(pngDPI))
	p.Draw(draw.New(c))
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// modeGrid exposes a (2L+1)x(2L+1) spatial-frequency map as a
// plotter.GridXYZ with n along X and m along Y, both centred on zero.
type modeGrid struct {
	a   [][]float64
	lim int
}

func (g modeGrid) Dims() (c, r int)   { return len(g.a[0]), len(g.a) }
func (g modeGrid) Z(c, r int) float64 { return g.a[r][c] }
func (g modeGrid) X(c int) float64    { return float64(c - g.lim) }
func (g modeGrid) Y(r int) float64    { return float64(r - g.lim) }

// log10Map returns log10 of a, with non-positive entries clamped to the
// smallest positive value so the palette stays finite.
func log10Map(a [][]float64) [][]float64 {
	floor := math.Inf(1)
	for _, row := range a {
		for _, v := range row {
			if v > 0 && v < floor {
				floor = v
			}
		}
	}
	if math.IsInf(floor, 1) {
		floor = 1
	}
	out := make([][]float64, len(a))
	for i, row := range a {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = math.Log10(math.Max(v, floor))
		}
	}
	return out
}

// HeatMapPNG renders a square mode map, indexed [m+L][n+L], as a PNG.
// With logScale the colours follow log10 of the values.
func HeatMapPNG(w io.Writer, title string, a [][]float64, logScale bool) error {
	if len(a) == 0 {
		return fmt.Errorf("heat map %q: empty map", title)
	}
	for i, row := range a {
		if len(row) != len(a) {
			return fmt.Errorf("%w: heat map row %d has %d values, want %d", ErrRagged, i, len(row), len(a))
		}
	}
	if logScale {
		a = log10Map(a)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "n"
	p.Y.Label.Text = "m"
	hm := plotter.NewHeatMap(modeGrid{a: a, lim: len(a) / 2}, palette.Heat(64, 1))
	if hm.Min == hm.Max {
		hm.Min, hm.Max = hm.Min-0.5, hm.Max+0.5
	}
	p.Add(hm)
	return writePNG(w, p, 6*vg.Inch, 6*vg.Inch)
}

// PSDPlotPNG renders one or more spectra on log-log axes. Non-positive
// samples are skipped.
func PSDPlotPNG(w io.Writer, title string, freq []float64, series ...Series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "PSD (rad^2/Hz)"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	var added int
	for i, s := range series {
		if len(s.Y) != len(freq) {
			return fmt.Errorf("%w: series %q has %d samples, want %d", ErrRagged, s.Name, len(s.Y), len(freq))
		}
		pts := make(plotter.XYs, 0, len(freq))
		for j, f := range freq {
			if f > 0 && s.Y[j] > 0 {
				pts = append(pts, plotter.XY{X: f, Y: s.Y[j]})
			}
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("series %q: %w", s.Name, err)
		}
		line.Width = vg.Points(1)
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(s.Name, line)
		added++
	}
	if added == 0 {
		return fmt.Errorf("psd plot %q: no positive samples", title)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return writePNG(w, p, 8*vg.Inch, 6*vg.Inch)
}

package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/units"
)

func renderPage(w io.Writer, cs ...components.Charter) error {
	page := components.NewPage()
	page.SetPageTitle("aosystem")
	page.AddCharts(cs...)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// PSDChartHTML writes an interactive log-log chart of one or more spectra.
func PSDChartHTML(w io.Writer, title string, freq []float64, series ...Series) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30px"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "log", Name: "Frequency (Hz)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "log", Name: "PSD (rad^2/Hz)", NameLocation: "middle", NameGap: 50}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	for _, s := range series {
		if len(s.Y) != len(freq) {
			return fmt.Errorf("%w: series %q has %d samples, want %d", ErrRagged, s.Name, len(s.Y), len(freq))
		}
		data := make([]opts.LineData, 0, len(freq))
		for i, f := range freq {
			if f > 0 && s.Y[i] > 0 {
				data = append(data, opts.LineData{Value: []interface{}{f, s.Y[i]}})
			}
		}
		line.AddSeries(s.Name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return renderPage(w, line)
}

// BudgetChartHTML writes the error budget against star magnitude: one
// chart of the terms as rms WFE in unit, one of the Strehl ratio.
func BudgetChartHTML(w io.Writer, bs []aosys.Budget, unit string, lamSci float64) error {
	if len(bs) == 0 {
		return fmt.Errorf("budget chart: no magnitudes")
	}
	mags := make([]string, len(bs))
	for i, b := range bs {
		mags[i] = strconv.FormatFloat(b.StarMag, 'g', -1, 64)
	}

	terms := charts.NewLine()
	terms.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{Title: "Error budget", Subtitle: fmt.Sprintf("%s at %g m", units.Label(unit), lamSci)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "40px"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "mag", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: units.Label(unit)}),
	)
	terms.SetXAxis(mags)
	for _, t := range aosys.Terms {
		data := make([]opts.LineData, len(bs))
		for i, b := range bs {
			data[i] = opts.LineData{Value: units.ConvertWFE(b.Terms[t], lamSci, unit)}
		}
		terms.AddSeries(string(t), data)
	}

	strehl := charts.NewBar()
	strehl.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Strehl"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bars := make([]opts.BarData, len(bs))
	for i, b := range bs {
		bars[i] = opts.BarData{Value: b.Strehl}
	}
	strehl.SetXAxis(mags).
		AddSeries("Strehl", bars,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	return renderPage(w, terms, strehl)
}

// SummaryChartHTML writes total residual variance and Strehl against star
// magnitude for a grid analysis.
func SummaryChartHTML(w io.Writer, title string, mags, totals, strehls []float64) error {
	if len(totals) != len(mags) || len(strehls) != len(mags) {
		return fmt.Errorf("%w: %d magnitudes, %d totals, %d strehls", ErrRagged, len(mags), len(totals), len(strehls))
	}
	x := make([]string, len(mags))
	tot := make([]opts.LineData, len(mags))
	str := make([]opts.LineData, len(mags))
	for i := range mags {
		x[i] = strconv.FormatFloat(mags[i], 'g', -1, 64)
		tot[i] = opts.LineData{Value: totals[i]}
		str[i] = opts.LineData{Value: strehls[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30px"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "mag", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x).
		AddSeries("total (rad^2)", tot).
		AddSeries("Strehl", str)
	return renderPage(w, line)
}

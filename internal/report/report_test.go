package report

import (
	"bytes"
	"errors"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/temporal"
	"github.com/banshee-data/aosystem/internal/units"
)

func testBudget(mag float64) aosys.Budget {
	b := aosys.Budget{StarMag: mag, DOpt: 0.25, Terms: map[aosys.Term]float64{}}
	for i, t := range aosys.Terms {
		b.Terms[t] = 0.01 * float64(i+1)
		b.Total += b.Terms[t]
	}
	b.Strehl = math.Exp(-b.Total)
	return b
}

func TestWriteBudget(t *testing.T) {
	var buf bytes.Buffer
	b := testBudget(8)
	require.NoError(t, WriteBudget(&buf, b, units.Rad, 0.8e-6))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	for i, prefix := range []string{"Measurement:", "Time-delay:", "Fitting:", "NCP error:", "Strehl:"} {
		assert.True(t, strings.HasPrefix(lines[i], prefix), "line %d = %q", i, lines[i])
	}
	assert.Contains(t, lines[0], "0.1", "sqrt(0.01) rad")
}

func TestWriteBudgetSweep(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBudgetSweep(&buf, []aosys.Budget{testBudget(5), testBudget(10)}, units.NM, 0.8e-6))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "#mag\td_opt\tMeasurement\tTime-delay\tFitting\tChr-Scint-OPD\tChr-Index\tDisp-Aniso-OPD\tNCP-error\tStrehl", lines[0])
	assert.Equal(t, 1, strings.Count(buf.String(), "#"), "exactly one header row")
	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, 10)
	assert.Equal(t, "5", fields[0])
}

func TestWriteColumns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteColumns(&buf, []string{"i", "C0"}, Index(3), []float64{1.5, 2, 1e-9}))
	assert.Equal(t, "# i C0\n0 1.5\n1 2\n2 1e-09\n", buf.String())

	err := WriteColumns(&buf, nil, []float64{1}, []float64{1, 2})
	assert.True(t, errors.Is(err, ErrRagged))
}

func TestWriteTemporalPSD(t *testing.T) {
	freq := []float64{1, 2, 3}
	si := temporal.Result{
		M: 1, Freq: freq,
		OpenLoop:   []float64{3, 2, 1},
		Noise:      []float64{0.1, 0.1, 0.1},
		ETF:        []float64{0.1, 0.5, 1},
		NTF:        []float64{1, 0.5, 0.1},
		Controller: temporal.Controller{Gain: 0.4, Coefficients: []float64{1}},
		Variance:   0.3,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTemporalPSD(&buf, si, nil, 0))
	out := buf.String()
	assert.Contains(t, out, "#    var OL = 6\n")
	assert.Contains(t, out, "#    opt-gain SI = 0.4\n")
	assert.Contains(t, out, "#    opt-gain LP = -1\n")
	assert.Contains(t, out, "# freq PSD-OL PSD-N ETF-SI NTF-SI ETF-LP NTF-LP\n")
	assert.Contains(t, out, "\n1 3 0.1 0.1 1 -1 -1\n")

	lp := si
	lp.Controller = temporal.Controller{Kind: temporal.LinearPredictor, Gain: 0.5, Coefficients: []float64{0.7, 0.3}}
	buf.Reset()
	require.NoError(t, WriteTemporalPSD(&buf, si, &lp, 2))
	assert.Contains(t, buf.String(), "#    LP coeff = [0.7 0.3]\n")
}

func TestHeatMapPNG(t *testing.T) {
	a := [][]float64{
		{1, 2, 3},
		{4, 0, 6},
		{7, 8, 9},
	}
	for _, logScale := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, HeatMapPNG(&buf, "C0", a, logScale))
		img, err := png.Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, 6*pngDPI, img.Bounds().Dx())
	}

	var buf bytes.Buffer
	require.NoError(t, HeatMapPNG(&buf, "flat", [][]float64{{0}}, false))
	assert.Error(t, HeatMapPNG(&buf, "empty", nil, false))
	assert.True(t, errors.Is(HeatMapPNG(&buf, "ragged", [][]float64{{1, 2}, {3}}, false), ErrRagged))
}

func TestPSDPlotPNG(t *testing.T) {
	freq := []float64{1, 2, 4, 8}
	var buf bytes.Buffer
	require.NoError(t, PSDPlotPNG(&buf, "mode (1,0)", freq,
		Series{Name: "open loop", Y: []float64{1, 0.1, 0.01, 0.001}},
		Series{Name: "noise", Y: []float64{0, 0.01, 0.01, 0.01}},
	))
	_, err := png.Decode(&buf)
	require.NoError(t, err)

	assert.Error(t, PSDPlotPNG(&buf, "none", freq, Series{Name: "zero", Y: make([]float64, 4)}))
	assert.True(t, errors.Is(PSDPlotPNG(&buf, "short", freq, Series{Name: "x", Y: []float64{1}}), ErrRagged))
}

func TestHTMLCharts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PSDChartHTML(&buf, "mode (1,0)", []float64{1, 2},
		Series{Name: "open loop", Y: []float64{1, 0.5}}))
	assert.Contains(t, buf.String(), "open loop")
	assert.Contains(t, buf.String(), "<html")

	buf.Reset()
	require.NoError(t, BudgetChartHTML(&buf, []aosys.Budget{testBudget(5), testBudget(10)}, units.NM, 0.8e-6))
	for _, term := range aosys.Terms {
		assert.Contains(t, buf.String(), string(term))
	}
	assert.Error(t, BudgetChartHTML(&buf, nil, units.NM, 0.8e-6))

	buf.Reset()
	require.NoError(t, SummaryChartHTML(&buf, "grid", []float64{8}, []float64{0.2}, []float64{0.8}))
	assert.Contains(t, buf.String(), "Strehl")
	assert.True(t, errors.Is(SummaryChartHTML(&buf, "grid", []float64{8}, nil, nil), ErrRagged))
}

package grid

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/aosystem/internal/arrayio"
	"github.com/banshee-data/aosystem/internal/fsutil"
	"github.com/banshee-data/aosystem/internal/temporal"
)

func magTag(mag float64) string {
	return "mag" + strconv.FormatFloat(mag, 'g', -1, 64)
}

// VarMapPath returns the residual variance map file for a magnitude.
func VarMapPath(dir string, mag float64) string {
	return filepath.Join(dir, "varmap_"+magTag(mag)+".csv")
}

// GainMapPath returns the optimal gain map file for a magnitude.
func GainMapPath(dir string, mag float64) string {
	return filepath.Join(dir, "gainmap_"+magTag(mag)+".csv")
}

// PSDPath returns the closed-loop PSD file of a mode at a magnitude.
func PSDPath(dir string, m, n int, mag float64) string {
	return filepath.Join(dir, "psds", fmt.Sprintf("psd_%d_%d_%s.csv", m, n, magTag(mag)))
}

// SummaryPath returns the per-magnitude summary table.
func SummaryPath(dir string) string { return filepath.Join(dir, "summary.csv") }

func writeMaps(fs fsutil.FileSystem, dir string, r MagResult) error {
	if err := arrayio.Write(fs, VarMapPath(dir, r.StarMag), r.Variance); err != nil {
		return err
	}
	return arrayio.Write(fs, GainMapPath(dir, r.StarMag), r.Gain)
}

func writeResidual(fs fsutil.FileSystem, dir string, mag float64, r temporal.Result) error {
	return arrayio.WriteSeries(fs, PSDPath(dir, r.M, r.N, mag),
		[]string{"freq", "open_loop", "noise", "etf2", "ntf2", "residual"},
		r.Freq, r.OpenLoop, r.Noise, r.ETF, r.NTF, r.Residual())
}

func writeLifetimes(fs fsutil.FileSystem, dir string, mean, std [][]float64) error {
	if err := arrayio.Write(fs, filepath.Join(dir, "lifetime_mean.csv"), mean); err != nil {
		return err
	}
	return arrayio.Write(fs, filepath.Join(dir, "lifetime_std.csv"), std)
}

func writeSummary(fs fsutil.FileSystem, dir string, results []MagResult) error {
	mags := make([]float64, len(results))
	totals := make([]float64, len(results))
	strehls := make([]float64, len(results))
	for i, r := range results {
		mags[i], totals[i], strehls[i] = r.StarMag, r.Total, r.Strehl
	}
	return arrayio.WriteSeries(fs, SummaryPath(dir), []string{"mag", "total", "strehl"}, mags, totals, strehls)
}

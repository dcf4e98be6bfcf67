package main

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/aosystem/internal/arrayio"
	"github.com/banshee-data/aosystem/internal/fsutil"
	"github.com/banshee-data/aosystem/internal/grid"
	"github.com/banshee-data/aosystem/internal/monitoring"
)

// smallSystem is a 2 m ideal-WFS system with a 3-cycle fitting domain.
const smallSystem = `{
	"model": "Guyon2005",
	"d": 2,
	"d_min": 0.5,
	"optd": false,
	"opt_tau": false,
	"tau_wfs": 0.001,
	"min_tau_wfs": 0.001,
	"delta_tau": 0.0005,
	"lam_sci": 0.8e-6,
	"fit_mn_max": 3,
	"mn_map": 4,
	"dfreq": 1,
	"star_mag": 6`

type runResult struct {
	code   int
	stdout string
	stderr string
	dir    string
}

// runWith writes smallSystem plus extra JSON members to a config file in a
// fresh directory and runs the command there.
func runWith(t *testing.T, extra string, args ...string) runResult {
	t.Helper()
	old := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = old })

	dir := t.TempDir()
	body := smallSystem
	if extra != "" {
		body += ",\n" + extra
	}
	body += "\n}\n"
	cfgPath := filepath.Join(dir, "system.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0644))

	full := append([]string{
		"-config", cfgPath,
		"-setup-out", filepath.Join(dir, "setup.txt"),
		"-out-dir", dir,
	}, args...)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), full, &stdout, &stderr, fsutil.OSFileSystem{})
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String(), dir: dir}
}

func dataLines(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		if l != "" && !strings.HasPrefix(l, "#") {
			out = append(out, l)
		}
	}
	return out
}

func TestVersionAndHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-version"}, &stdout, &stderr, fsutil.NewMemoryFileSystem()))
	assert.True(t, strings.HasPrefix(stdout.String(), "aosystem "))

	assert.Equal(t, 0, run(context.Background(), []string{"-h"}, &stdout, &stderr, fsutil.NewMemoryFileSystem()))
	assert.Contains(t, stderr.String(), "-star-mags")

	assert.Equal(t, exitFailure, run(context.Background(), []string{"-no-such-flag"}, &stdout, &stderr, fsutil.NewMemoryFileSystem()))
}

func TestErrorBudget(t *testing.T) {
	r := runWith(t, "", "-mode", "ErrorBudget")
	require.Equal(t, 0, r.code, r.stderr)

	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 5)
	for i, prefix := range []string{"Measurement:", "Time-delay:", "Fitting:", "NCP error:", "Strehl:"} {
		assert.True(t, strings.HasPrefix(lines[i], prefix), "line %d = %q", i, lines[i])
	}

	setup, err := os.ReadFile(filepath.Join(r.dir, "setup.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(setup), "lam_0")
}

func TestErrorBudgetSweep(t *testing.T) {
	htmlPath := filepath.Join(t.TempDir(), "budget.html")
	r := runWith(t, "", "-mode", "ErrorBudget", "-star-mags", "4:8:2", "-wfe-units", "nm", "-html", htmlPath)
	require.Equal(t, 0, r.code, r.stderr)

	rows := dataLines(r.stdout)
	require.Len(t, rows, 3)
	assert.True(t, strings.HasPrefix(rows[0], "4\t"))
	assert.Contains(t, r.stdout, "#mag\td_opt\t")

	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Strehl")
}

func TestStrehl(t *testing.T) {
	r := runWith(t, "", "-mode", "Strehl")
	require.Equal(t, 0, r.code, r.stderr)
	s, err := strconv.ParseFloat(strings.TrimSpace(r.stdout), 64)
	require.NoError(t, err)
	assert.Greater(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
}

func TestFailures(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		args  []string
		log   string
	}{
		{"unknown mode", "", []string{"-mode", "C3Raw"}, "unknown mode"},
		{"bad star mags", "", []string{"-mode", "ErrorBudget", "-star-mags", "5:x"}, "-star-mags"},
		{"bad units", "", []string{"-mode", "ErrorBudget", "-wfe-units", "furlong"}, "furlong"},
		{"bad model", "", []string{"-model", "Keck"}, "Keck"},
		{"grid without dir", "", []string{"-mode", "temporalPSDGrid"}, "grid_dir"},
		{"bad log level", "", []string{"-log-level", "loud"}, "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runWith(t, tt.extra, tt.args...)
			assert.Equal(t, exitFailure, r.code)
			assert.Contains(t, r.stderr, tt.log)
			_, err := os.Stat(filepath.Join(r.dir, "setup.txt"))
			assert.True(t, os.IsNotExist(err), "setup written after failure")
		})
	}
}

func TestCRawAndMap(t *testing.T) {
	r := runWith(t, "", "-mode", "C0Raw")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Len(t, dataLines(r.stdout), 3)
	a, err := arrayio.Read(fsutil.OSFileSystem{}, filepath.Join(r.dir, "C0Raw.csv"))
	require.NoError(t, err)
	assert.Len(t, a, 9)

	r = runWith(t, "", "-mode", "C2Map")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Len(t, dataLines(r.stdout), 4)
	f, err := os.Open(filepath.Join(r.dir, "C2Map.png"))
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestCAllRawAndProfiles(t *testing.T) {
	r := runWith(t, "", "-mode", "CAllRaw")
	require.Equal(t, 0, r.code, r.stderr)
	rows := dataLines(r.stdout)
	require.Len(t, rows, 3)
	assert.Len(t, strings.Fields(rows[0]), 7)

	r = runWith(t, "", "-mode", "CProfAll")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "# Sep C0 C1 C2 C4 C6 C7\n")
	assert.Len(t, dataLines(r.stdout), 4)
}

func TestTemporalPSD(t *testing.T) {
	pngPath := filepath.Join(t.TempDir(), "psd.png")
	r := runWith(t, `"k_m": 1, "k_n": 1, "lp_nc": 2`, "-mode", "temporalPSD", "-png", pngPath)
	require.Equal(t, 0, r.code, r.stderr)

	assert.Contains(t, r.stdout, "# freq PSD-OL PSD-N ETF-SI NTF-SI ETF-LP NTF-LP\n")
	rows := dataLines(r.stdout)
	require.Len(t, rows, 500)
	fields := strings.Fields(rows[0])
	require.Len(t, fields, 7)
	assert.Equal(t, "1", fields[0])
	assert.NotEqual(t, "-1", fields[5], "LP columns present when lp_nc > 1")

	_, err := os.Stat(pngPath)
	assert.NoError(t, err)
}

func TestTemporalPSDGridRoundTrip(t *testing.T) {
	gridDir := filepath.Join(t.TempDir(), "grid")
	extra := `"grid_dir": "` + gridDir + `", "sub_dir": "an", "workers": 2`

	r := runWith(t, extra, "-mode", "temporalPSDGrid")
	require.Equal(t, 0, r.code, r.stderr)
	_, err := os.Stat(filepath.Join(gridDir, grid.StoreName))
	require.NoError(t, err)

	r = runWith(t, extra, "-mode", "temporalPSDGridAnalyze", "-star-mags", "5,9")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "# mag total strehl\n")
	rows := dataLines(r.stdout)
	require.Len(t, rows, 2)
	lo, err := strconv.ParseFloat(strings.Fields(rows[0])[2], 64)
	require.NoError(t, err)
	hi, err := strconv.ParseFloat(strings.Fields(rows[1])[2], 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lo, hi, "fainter star gives lower Strehl")

	_, err = os.Stat(grid.SummaryPath(filepath.Join(gridDir, "an")))
	assert.NoError(t, err)
}

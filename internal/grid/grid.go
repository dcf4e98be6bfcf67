// Package grid builds and analyses temporal PSD grids: one open-loop PSD
// per spatial Fourier mode, persisted in a gridstore database and then
// reloaded to optimise controllers for a sweep of guide star magnitudes.
package grid

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/fsutil"
	"github.com/banshee-data/aosystem/internal/gridstore"
	"github.com/banshee-data/aosystem/internal/monitoring"
	"github.com/banshee-data/aosystem/internal/security"
	"github.com/banshee-data/aosystem/internal/temporal"
	"github.com/banshee-data/aosystem/internal/timeutil"
)

// StoreName is the database file inside a grid directory.
const StoreName = "grid.db"

// Enumerate returns the half-plane modes (m > 0, or m = 0 and n > 0) inside
// the fitting domain, ordered by m then n. Each mode stands for itself and
// its mirror (-m, -n).
func Enumerate(fitMNMax int, circular bool) [][2]int {
	var out [][2]int
	for m := 0; m <= fitMNMax; m++ {
		for n := -fitMNMax; n <= fitMNMax; n++ {
			if m == 0 && n <= 0 {
				continue
			}
			if aosys.InDomain(m, n, fitMNMax, circular) {
				out = append(out, [2]int{m, n})
			}
		}
	}
	return out
}

// Coordinator runs grid generation and analysis for one AO system.
//
// Array maps and PSD files go through the coordinator's FileSystem, but the
// grid store is a SQLite file and is always opened at the OS path
// GridDir/grid.db, so GridDir must name a real directory even when fs is an
// in-memory filesystem.
type Coordinator struct {
	cfg aosys.Config
	fs  fsutil.FileSystem
	// Workers bounds concurrent mode computations; values < 1 mean 1.
	Workers int
	// Clock stamps store records and times runs; nil means the wall clock.
	Clock timeutil.Clock
}

// NewCoordinator returns a coordinator for cfg writing array output to fs.
// The loop runs at 1/MinTauWFS, so neither spacing nor integration time
// is optimised.
func NewCoordinator(cfg aosys.Config, fs fsutil.FileSystem) *Coordinator {
	cfg.OptD = false
	cfg.OptTau = false
	cfg.TauWFS = cfg.MinTauWFS
	return &Coordinator{cfg: cfg, fs: fs, Workers: 1}
}

func (c *Coordinator) workers() int { return max(c.Workers, 1) }

func (c *Coordinator) openStore(dir string) (*gridstore.Store, error) {
	store, err := gridstore.Open(filepath.Join(dir, StoreName))
	if err != nil {
		return nil, err
	}
	store.SetClock(c.Clock)
	return store, nil
}

// MakeOptions configures MakePSDGrid.
type MakeOptions struct {
	GridDir string
	Df      float64
	Fmax    float64 // <= 0 chooses the cutoff per mode
}

// MakePSDGrid computes the open-loop PSD of every half-plane mode and
// stores them under opts.GridDir.
func (c *Coordinator) MakePSDGrid(ctx context.Context, opts MakeOptions) error {
	if opts.GridDir == "" {
		return fmt.Errorf("temporalPSDGrid: grid_dir is empty: %w", aosys.ErrPrecondition)
	}
	if c.cfg.MinTauWFS <= 0 {
		return fmt.Errorf("temporalPSDGrid: min_tau_wfs must be > 0: %w", aosys.ErrPrecondition)
	}
	g, err := temporal.NewGrid(1/c.cfg.MinTauWFS, opts.Df)
	if err != nil {
		return fmt.Errorf("temporalPSDGrid: %w", err)
	}
	model, err := aosys.NewModel(c.cfg)
	if err != nil {
		return fmt.Errorf("temporalPSDGrid: %w", err)
	}
	engine := temporal.NewEngine(model, opts.Fmax)

	clock := timeutil.OrReal(c.Clock)
	start := clock.Now()
	modes := Enumerate(c.cfg.FitMNMax, c.cfg.CircularLimit)
	monitoring.Logf("temporalPSDGrid: %d modes, %d frequencies, %d workers", len(modes), len(g.Freq), c.workers())

	psds := make([][]float64, len(modes))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.workers())
	for i, mn := range modes {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			psds[i] = engine.OpenLoop(mn[0], mn[1], g)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("temporalPSDGrid: %w", err)
	}

	if err := c.fs.MkdirAll(opts.GridDir, 0755); err != nil {
		return fmt.Errorf("temporalPSDGrid: %w", err)
	}
	// The store lives on disk whatever fs is.
	if err := os.MkdirAll(opts.GridDir, 0755); err != nil {
		return fmt.Errorf("temporalPSDGrid: %w", err)
	}
	store, err := c.openStore(opts.GridDir)
	if err != nil {
		return fmt.Errorf("temporalPSDGrid: %w", err)
	}
	defer store.Close()

	meta := gridstore.Meta{Fs: g.Fs, Df: g.Df, Fmax: opts.Fmax, D: c.cfg.D, FitMNMax: c.cfg.FitMNMax}
	rows := make([]gridstore.Mode, len(modes))
	for i, mn := range modes {
		rows[i] = gridstore.Mode{M: mn[0], N: mn[1], Freq: g.Freq, PSD: psds[i]}
	}
	// Modes left over from an earlier run with a larger fit_mn_max are
	// dropped with the rewrite.
	if err := store.WriteGrid(meta, rows); err != nil {
		return fmt.Errorf("temporalPSDGrid: %w", err)
	}
	monitoring.Logf("temporalPSDGrid: wrote %s in %v", filepath.Join(opts.GridDir, StoreName), clock.Since(start))
	return nil
}

// AnalyzeOptions configures AnalyzePSDGrid.
type AnalyzeOptions struct {
	GridDir  string
	SubDir   string
	MNCon    int
	LPNc     int
	StarMags []float64

	LifetimeTrials        int
	UncontrolledLifetimes bool
	WritePSDs             bool
}

// MagResult is the analysis of one star magnitude.
type MagResult struct {
	StarMag  float64
	Total    float64
	Strehl   float64
	Variance [][]float64 // residual variance per mode, mirrored
	Gain     [][]float64 // optimal gain per controlled mode, mirrored
}

// Analysis is the output of AnalyzePSDGrid.
type Analysis struct {
	ID      string
	Results []MagResult
}

type modeResult struct {
	variance float64
	gain     float64
	res      *temporal.Result
}

// AnalyzePSDGrid reloads a grid and optimises a controller for every
// controlled mode at each star magnitude. Uncontrolled modes contribute
// their open-loop variance. Maps and a summary are written to
// GridDir/SubDir and the run is recorded in the grid store.
func (c *Coordinator) AnalyzePSDGrid(ctx context.Context, opts AnalyzeOptions) (*Analysis, error) {
	const routine = "temporalPSDGridAnalyze"
	switch {
	case opts.GridDir == "":
		return nil, fmt.Errorf("%s: grid_dir is empty: %w", routine, aosys.ErrPrecondition)
	case opts.SubDir == "":
		return nil, fmt.Errorf("%s: sub_dir is empty: %w", routine, aosys.ErrPrecondition)
	case len(opts.StarMags) == 0:
		return nil, fmt.Errorf("%s: no star magnitudes: %w", routine, aosys.ErrPrecondition)
	}

	outDir, err := security.ContainedPath(opts.GridDir, opts.SubDir)
	if err != nil {
		return nil, fmt.Errorf("%s: sub_dir: %w", routine, err)
	}

	store, err := c.openStore(opts.GridDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", routine, err)
	}
	defer store.Close()

	meta, err := store.ReadMeta()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", routine, err)
	}
	g, err := temporal.NewGrid(meta.Fs, meta.Df)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", routine, err)
	}
	index, err := store.ListModes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", routine, err)
	}
	modes := make([]gridstore.Mode, len(index))
	for i, mn := range index {
		if !aosys.InDomain(mn[0], mn[1], meta.FitMNMax, c.cfg.CircularLimit) {
			return nil, fmt.Errorf("%s: stored mode (%d,%d) lies outside fit_mn_max %d: %w",
				routine, mn[0], mn[1], meta.FitMNMax, aosys.ErrPrecondition)
		}
		if modes[i], err = store.ReadMode(mn[0], mn[1]); err != nil {
			return nil, fmt.Errorf("%s: %w", routine, err)
		}
		if len(modes[i].PSD) != len(g.Freq) {
			return nil, fmt.Errorf("%s: mode (%d,%d) has %d bins, grid has %d", routine, mn[0], mn[1], len(modes[i].PSD), len(g.Freq))
		}
	}

	if err := c.fs.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("%s: %w", routine, err)
	}
	if opts.WritePSDs {
		if err := c.fs.MkdirAll(filepath.Join(outDir, "psds"), 0755); err != nil {
			return nil, fmt.Errorf("%s: %w", routine, err)
		}
	}

	lim := meta.FitMNMax
	loop := temporal.Loop{Fs: g.Fs, Delay: c.cfg.DeltaTau}
	opt := temporal.NewOptimizer(loop, g)
	out := &Analysis{}

	for _, mag := range opts.StarMags {
		model, err := aosys.NewModel(c.cfg.WithStarMag(mag))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", routine, err)
		}
		engine := temporal.NewEngine(model, meta.Fmax)

		results := make([]modeResult, len(modes))
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(c.workers())
		for i := range modes {
			eg.Go(func() error {
				if err := ectx.Err(); err != nil {
					return err
				}
				md := modes[i]
				if !controlled(md.M, md.N, opts.MNCon, c.cfg.CircularLimit) {
					results[i] = modeResult{variance: g.Integral(md.PSD)}
					return nil
				}
				noise := engine.NoisePSD(md.M, md.N, g)
				r := opt.Optimize(md.M, md.N, md.PSD, noise, opts.LPNc)
				results[i] = modeResult{variance: r.Variance, gain: r.Controller.Gain, res: &r}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, fmt.Errorf("%s: %w", routine, err)
		}

		mr := MagResult{StarMag: mag, Variance: square(2*lim + 1), Gain: square(2*lim + 1)}
		for i, md := range modes {
			r := results[i]
			mr.Total += 2 * r.variance
			mirror(mr.Variance, md.M, md.N, lim, r.variance)
			mirror(mr.Gain, md.M, md.N, lim, r.gain)
			if opts.WritePSDs && r.res != nil {
				if err := writeResidual(c.fs, outDir, mag, *r.res); err != nil {
					return nil, fmt.Errorf("%s: %w", routine, err)
				}
			}
		}
		mr.Strehl = math.Exp(-mr.Total)
		if err := writeMaps(c.fs, outDir, mr); err != nil {
			return nil, fmt.Errorf("%s: %w", routine, err)
		}
		monitoring.Logf("%s: mag %g total %g rad^2 strehl %g", routine, mag, mr.Total, mr.Strehl)
		out.Results = append(out.Results, mr)
	}

	if opts.UncontrolledLifetimes && opts.LifetimeTrials > 0 {
		sampler := LifetimeSampler{Grid: g, Trials: opts.LifetimeTrials}
		mean, std := square(2*lim+1), square(2*lim+1)
		for i, md := range modes {
			if controlled(md.M, md.N, opts.MNCon, c.cfg.CircularLimit) {
				continue
			}
			mu, sd := sampler.Sample(md.PSD, uint64(i))
			mirror(mean, md.M, md.N, lim, mu)
			mirror(std, md.M, md.N, lim, sd)
		}
		if err := writeLifetimes(c.fs, outDir, mean, std); err != nil {
			return nil, fmt.Errorf("%s: %w", routine, err)
		}
	}

	if err := writeSummary(c.fs, outDir, out.Results); err != nil {
		return nil, fmt.Errorf("%s: %w", routine, err)
	}

	rec := &gridstore.Analysis{SubDir: opts.SubDir, MNCon: opts.MNCon, LPNc: opts.LPNc}
	for _, r := range out.Results {
		rec.StarMags = append(rec.StarMags, r.StarMag)
		rec.Totals = append(rec.Totals, r.Total)
		rec.Strehls = append(rec.Strehls, r.Strehl)
	}
	if err := store.RecordAnalysis(rec); err != nil {
		return nil, fmt.Errorf("%s: %w", routine, err)
	}
	out.ID = rec.AnalysisID
	return out, nil
}

func controlled(m, n, mnCon int, circular bool) bool {
	return !(m == 0 && n == 0) && aosys.InDomain(m, n, mnCon, circular)
}

func square(size int) [][]float64 {
	out := make([][]float64, size)
	for i := range out {
		out[i] = make([]float64, size)
	}
	return out
}

// mirror sets a[m][n] and its point reflection, offset by lim.
func mirror(a [][]float64, m, n, lim int, v float64) {
	a[lim+m][lim+n] = v
	a[lim-m][lim-n] = v
}

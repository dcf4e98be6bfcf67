package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/arrayio"
	"github.com/banshee-data/aosystem/internal/config"
	"github.com/banshee-data/aosystem/internal/fsutil"
	"github.com/banshee-data/aosystem/internal/grid"
	"github.com/banshee-data/aosystem/internal/monitoring"
	"github.com/banshee-data/aosystem/internal/report"
	"github.com/banshee-data/aosystem/internal/temporal"
)

// errUnknownMode is returned for routine names execute does not know.
var errUnknownMode = errors.New("unknown mode")

// app runs one analysis routine over a resolved configuration.
type app struct {
	cfg    *config.Resolved
	files  fsutil.FileSystem
	stdout io.Writer

	htmlPath string
	pngPath  string
	outDir   string
}

func (a *app) execute(ctx context.Context) error {
	mode := a.cfg.App.Mode
	switch mode {
	case "CAllRaw":
		return a.cAllRaw()
	case "CProfAll":
		return a.cProfAll()
	case "ErrorBudget":
		return a.errorBudget()
	case "Strehl":
		return a.strehl()
	case "temporalPSD":
		return a.temporalPSD()
	case "temporalPSDGrid":
		return a.temporalPSDGrid(ctx)
	case "temporalPSDGridAnalyze":
		return a.temporalPSDGridAnalyze(ctx)
	}
	if name, ok := strings.CutSuffix(mode, "Raw"); ok {
		if c, err := aosys.ParseCTerm(name); err == nil {
			return a.cRaw(c)
		}
	}
	if name, ok := strings.CutSuffix(mode, "Map"); ok {
		if c, err := aosys.ParseCTerm(name); err == nil {
			return a.cMap(c)
		}
	}
	return fmt.Errorf("%w: %q", errUnknownMode, mode)
}

func (a *app) model() (*aosys.Model, error) {
	return aosys.NewModel(a.cfg.System)
}

// writeFile creates path on the app filesystem and streams fn into it.
func (a *app) writeFile(path string, fn func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := a.files.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := a.files.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// writeSetup dumps the resolved system after a successful routine.
func (a *app) writeSetup() error {
	path := a.cfg.App.SetupOutFile
	if path == "" {
		return nil
	}
	m, err := a.model()
	if err != nil {
		return err
	}
	return a.writeFile(path, m.WriteSetup)
}

func (a *app) cRaw(c aosys.CTerm) error {
	m, err := a.model()
	if err != nil {
		return err
	}
	path := filepath.Join(a.outDir, c.String()+"Raw.csv")
	if err := arrayio.Write(a.files, path, m.Map(c, a.cfg.App.MNMap)); err != nil {
		return err
	}
	raw := m.Raw(c)
	return report.WriteColumns(a.stdout, nil, report.Index(len(raw)), raw)
}

// profile returns the n >= 0 half of the m = 0 row of a map.
func profile(mp [][]float64, mnMap int) []float64 {
	return append([]float64(nil), mp[mnMap][mnMap:mnMap+mnMap]...)
}

func (a *app) cMap(c aosys.CTerm) error {
	m, err := a.model()
	if err != nil {
		return err
	}
	mnMap := a.cfg.App.MNMap
	mp := m.Map(c, mnMap)
	base := filepath.Join(a.outDir, c.String()+"Map")
	if err := arrayio.Write(a.files, base+".csv", mp); err != nil {
		return err
	}
	title := fmt.Sprintf("%s, mag %g", c, a.cfg.System.StarMag)
	if err := a.writeFile(base+".png", func(w io.Writer) error { return report.HeatMapPNG(w, title, mp, true) }); err != nil {
		return err
	}
	prof := profile(mp, mnMap)
	return report.WriteColumns(a.stdout, nil, report.Index(len(prof)), prof)
}

func (a *app) cAllRaw() error {
	m, err := a.model()
	if err != nil {
		return err
	}
	cols := [][]float64{report.Index(a.cfg.System.FitMNMax)}
	for _, c := range aosys.CTerms {
		cols = append(cols, m.Raw(c))
	}
	return report.WriteColumns(a.stdout, nil, cols...)
}

func (a *app) cProfAll() error {
	m, err := a.model()
	if err != nil {
		return err
	}
	mnMap := a.cfg.App.MNMap
	header := []string{"Sep"}
	cols := [][]float64{report.Index(mnMap)}
	for _, c := range aosys.CTerms {
		header = append(header, c.String())
		cols = append(cols, profile(m.Map(c, mnMap), mnMap))
	}
	fmt.Fprintln(a.stdout, "# Mode-variance profiles along m = 0.")
	return report.WriteColumns(a.stdout, header, cols...)
}

func (a *app) errorBudget() error {
	unit, lam := a.cfg.App.WFEUnits, a.cfg.System.LamSci
	if len(a.cfg.App.StarMags) == 0 {
		m, err := a.model()
		if err != nil {
			return err
		}
		return report.WriteBudget(a.stdout, m.Budget(), unit, lam)
	}

	budgets := make([]aosys.Budget, 0, len(a.cfg.App.StarMags))
	for _, mag := range a.cfg.App.StarMags {
		m, err := aosys.NewModel(a.cfg.System.WithStarMag(mag))
		if err != nil {
			return err
		}
		budgets = append(budgets, m.Budget())
	}
	if err := report.WriteBudgetSweep(a.stdout, budgets, unit, lam); err != nil {
		return err
	}
	if a.htmlPath != "" {
		return a.writeFile(a.htmlPath, func(w io.Writer) error { return report.BudgetChartHTML(w, budgets, unit, lam) })
	}
	return nil
}

func (a *app) strehl() error {
	m, err := a.model()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "%g\n", m.Strehl())
	return err
}

// loopConfig fixes the integration time at MinTauWFS, the loop period of
// the temporal routines.
func loopConfig(cfg aosys.Config) aosys.Config {
	cfg.OptD = false
	cfg.OptTau = false
	cfg.TauWFS = cfg.MinTauWFS
	return cfg
}

func (a *app) temporalPSD() error {
	const routine = "temporalPSD"
	sys, t := loopConfig(a.cfg.System), a.cfg.Temporal
	if sys.MinTauWFS <= 0 {
		return fmt.Errorf("%s: min_tau_wfs must be > 0 to set the loop frequency: %w", routine, aosys.ErrPrecondition)
	}
	g, err := temporal.NewGrid(1/sys.MinTauWFS, t.Df)
	if err != nil {
		return fmt.Errorf("%s: %w", routine, err)
	}
	m, err := aosys.NewModel(sys)
	if err != nil {
		return fmt.Errorf("%s: %w", routine, err)
	}
	engine := temporal.NewEngine(m, t.Fmax)
	ol := engine.OpenLoop(t.KM, t.KN, g)
	noise := engine.NoisePSD(t.KM, t.KN, g)

	opt := temporal.NewOptimizer(temporal.Loop{Fs: g.Fs, Delay: sys.DeltaTau}, g)
	si := opt.Optimize(t.KM, t.KN, ol, noise, 0)
	var lp *temporal.Result
	if t.LPNc > 1 {
		r := opt.Optimize(t.KM, t.KN, ol, noise, t.LPNc)
		lp = &r
	}
	monitoring.Logf("%s: mode (%d,%d) open-loop variance %g, SI gain %g", routine, t.KM, t.KN, g.Integral(ol), si.Controller.Gain)

	if err := report.WriteTemporalPSD(a.stdout, si, lp, t.LPNc); err != nil {
		return err
	}

	series := []report.Series{
		{Name: "open loop", Y: ol},
		{Name: "noise", Y: noise},
		{Name: "residual SI", Y: si.Residual()},
	}
	if lp != nil {
		series = append(series, report.Series{Name: "residual LP", Y: lp.Residual()})
	}
	title := fmt.Sprintf("Temporal PSD of mode (%d,%d)", t.KM, t.KN)
	if a.htmlPath != "" {
		if err := a.writeFile(a.htmlPath, func(w io.Writer) error { return report.PSDChartHTML(w, title, g.Freq, series...) }); err != nil {
			return err
		}
	}
	if a.pngPath != "" {
		if err := a.writeFile(a.pngPath, func(w io.Writer) error { return report.PSDPlotPNG(w, title, g.Freq, series...) }); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) coordinator() *grid.Coordinator {
	c := grid.NewCoordinator(a.cfg.System, a.files)
	c.Workers = a.cfg.Temporal.Workers
	return c
}

func (a *app) temporalPSDGrid(ctx context.Context) error {
	t := a.cfg.Temporal
	return a.coordinator().MakePSDGrid(ctx, grid.MakeOptions{GridDir: t.GridDir, Df: t.Df, Fmax: t.Fmax})
}

func (a *app) temporalPSDGridAnalyze(ctx context.Context) error {
	sys, t := a.cfg.System, a.cfg.Temporal
	mags := a.cfg.App.StarMags
	if len(mags) == 0 {
		mags = []float64{sys.StarMag}
	}
	an, err := a.coordinator().AnalyzePSDGrid(ctx, grid.AnalyzeOptions{
		GridDir:               t.GridDir,
		SubDir:                t.SubDir,
		MNCon:                 int(sys.D / sys.DMin / 2),
		LPNc:                  t.LPNc,
		StarMags:              mags,
		LifetimeTrials:        t.LifetimeTrials,
		UncontrolledLifetimes: t.UncontrolledLifetimes,
		WritePSDs:             t.WritePSDs,
	})
	if err != nil {
		return err
	}

	n := len(an.Results)
	mg, tot, str := make([]float64, n), make([]float64, n), make([]float64, n)
	for i, r := range an.Results {
		mg[i], tot[i], str[i] = r.StarMag, r.Total, r.Strehl
	}
	fmt.Fprintf(a.stdout, "# analysis %s\n", an.ID)
	if err := report.WriteColumns(a.stdout, []string{"mag", "total", "strehl"}, mg, tot, str); err != nil {
		return err
	}
	if a.htmlPath != "" {
		title := fmt.Sprintf("Grid analysis %s/%s", t.GridDir, t.SubDir)
		return a.writeFile(a.htmlPath, func(w io.Writer) error { return report.SummaryChartHTML(w, title, mg, tot, str) })
	}
	return nil
}

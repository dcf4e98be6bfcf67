// Command aosystem evaluates the performance of an adaptive optics system:
// error budgets, Strehl ratio, per-mode contrast terms and temporal PSD
// grids.
//
//	aosystem -config magaox.json -mode ErrorBudget -star-mags 5:12:1 -wfe-units nm
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/aosystem/internal/config"
	"github.com/banshee-data/aosystem/internal/fsutil"
	"github.com/banshee-data/aosystem/internal/monitoring"
	"github.com/banshee-data/aosystem/internal/sweep"
	"github.com/banshee-data/aosystem/internal/version"
)

// exitFailure is returned for any failed run; the shell sees 255.
const exitFailure = -1

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, fsutil.OSFileSystem{})
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	mode        string
	model       string
	starMags    string
	wfeUnits    string
	setupOut    string
	htmlPath    string
	pngPath     string
	outDir      string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("aosystem", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "JSON configuration file")
	fs.StringVar(&o.mode, "mode", "", "Routine: C<N>Raw, C<N>Map, CAllRaw, CProfAll, ErrorBudget, Strehl, temporalPSD, temporalPSDGrid, temporalPSDGridAnalyze")
	fs.StringVar(&o.model, "model", "", "Preset to load before applying the configuration: Guyon2005, MagAOX or GMagAOX")
	fs.StringVar(&o.starMags, "star-mags", "", "Star magnitudes, comma separated or min:max:step")
	fs.StringVar(&o.wfeUnits, "wfe-units", "", "Units for WFE in ErrorBudget: rad, nm or um")
	fs.StringVar(&o.setupOut, "setup-out", "", "File for the resolved system setup (default "+config.DefaultSetupOutFile+")")
	fs.StringVar(&o.htmlPath, "html", "", "Write an interactive chart to this HTML file (temporalPSD, ErrorBudget, temporalPSDGridAnalyze)")
	fs.StringVar(&o.pngPath, "png", "", "Write a log-log PSD plot to this PNG file (temporalPSD)")
	fs.StringVar(&o.outDir, "out-dir", ".", "Directory for map files written by C<N>Raw and C<N>Map")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return &o, fs, nil
}

// applyFlags copies explicitly set flags over the file configuration.
func applyFlags(cfg *config.SystemConfig, o *options, fs *flag.FlagSet) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = &o.mode
		case "model":
			cfg.Model = &o.model
		case "wfe-units":
			cfg.WFEUnits = &o.wfeUnits
		case "setup-out":
			cfg.SetupOutFile = &o.setupOut
		case "star-mags":
			var mags []float64
			if mags, err = sweep.ParseParamList(o.starMags); err != nil {
				err = fmt.Errorf("invalid -star-mags: %w", err)
				return
			}
			cfg.StarMags = mags
		}
	})
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, files fsutil.FileSystem) int {
	o, fs, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return exitFailure
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	level, err := monitoring.ParseLevel(o.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	monitoring.Use(monitoring.NewLogger(stderr, level))

	if fs.NArg() > 0 {
		monitoring.Logf("warning: unrecognized command line arguments: %v", fs.Args())
	}

	cfg := config.EmptySystemConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadSystemConfig(o.configPath); err != nil {
			monitoring.Logf("error: %v", err)
			return exitFailure
		}
	}
	if err := applyFlags(cfg, o, fs); err != nil {
		monitoring.Logf("error: %v", err)
		return exitFailure
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		monitoring.Logf("error: %v", err)
		return exitFailure
	}

	a := &app{
		cfg:      resolved,
		files:    files,
		stdout:   stdout,
		htmlPath: o.htmlPath,
		pngPath:  o.pngPath,
		outDir:   o.outDir,
	}
	if err := a.execute(ctx); err != nil {
		monitoring.Logf("error: %v", err)
		return exitFailure
	}
	if err := a.writeSetup(); err != nil {
		monitoring.Logf("error: %v", err)
		return exitFailure
	}
	return 0
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/banshee-data/aosystem/internal/aosys"
	"github.com/banshee-data/aosystem/internal/atmosphere"
	"github.com/banshee-data/aosystem/internal/monitoring"
	"github.com/banshee-data/aosystem/internal/psd"
	"github.com/banshee-data/aosystem/internal/units"
	"github.com/banshee-data/aosystem/internal/wfs"
)

// DefaultSetupOutFile is where the resolved system is dumped after a
// successful run.
const DefaultSetupOutFile = "mxAOAnalysisSetup.txt"

// ErrUnknownUnits is returned for WFE units other than rad, nm or um.
var ErrUnknownUnits = errors.New("config: unknown WFE units")

// SystemConfig is the JSON configuration of an analysis run. Every field
// is optional: nil means "keep the preset value" for system parameters
// and "use the default" for the rest (see the Get* methods).
type SystemConfig struct {
	// App
	Mode         *string `json:"mode,omitempty"`
	SetupOutFile *string `json:"setup_out_file,omitempty"`
	WFEUnits     *string `json:"wfe_units,omitempty"`
	MNMap        *int    `json:"mn_map,omitempty"`
	Model        *string `json:"model,omitempty"`

	// Atmosphere
	Lam0       *float64  `json:"lam_0,omitempty"`
	R0         *float64  `json:"r_0,omitempty"`
	L0         *float64  `json:"l_0,omitempty"`
	LayerCn2   []float64 `json:"layer_cn2,omitempty"`
	LayerVWind []float64 `json:"layer_v_wind,omitempty"`
	LayerDir   []float64 `json:"layer_dir,omitempty"`
	LayerZ     []float64 `json:"layer_z,omitempty"`
	VWind      *float64  `json:"v_wind,omitempty"`
	ZMean      *float64  `json:"z_mean,omitempty"`

	// PSD
	SubTipTilt    *bool   `json:"sub_tip_tilt,omitempty"`
	Scintillation *bool   `json:"scintillation,omitempty"`
	Component     *string `json:"component,omitempty"`

	// System
	WFS           *string   `json:"wfs,omitempty"`
	ModRadius     *float64  `json:"mod_radius,omitempty"`
	D             *float64  `json:"d,omitempty"`
	DMin          *float64  `json:"d_min,omitempty"`
	OptD          *bool     `json:"optd,omitempty"`
	OptDDelta     *float64  `json:"optd_delta,omitempty"`
	F0            *float64  `json:"f0,omitempty"`
	LamWFS        *float64  `json:"lam_wfs,omitempty"`
	NpixWFS       *float64  `json:"npix_wfs,omitempty"`
	RonWFS        *float64  `json:"ron_wfs,omitempty"`
	BinNpix       *bool     `json:"bin_npix,omitempty"`
	Fbg           *float64  `json:"fbg,omitempty"`
	MinTauWFS     *float64  `json:"min_tau_wfs,omitempty"`
	TauWFS        *float64  `json:"tau_wfs,omitempty"`
	DeltaTau      *float64  `json:"delta_tau,omitempty"`
	OptTau        *bool     `json:"opt_tau,omitempty"`
	LamSci        *float64  `json:"lam_sci,omitempty"`
	Zeta          *float64  `json:"zeta,omitempty"`
	FitMNMax      *int      `json:"fit_mn_max,omitempty"`
	NcpWFE        *float64  `json:"ncp_wfe,omitempty"`
	NcpAlpha      *float64  `json:"ncp_alpha,omitempty"`
	StarMag       *float64  `json:"star_mag,omitempty"`
	StarMags      []float64 `json:"star_mags,omitempty"`
	CircularLimit *bool     `json:"circular_limit,omitempty"`

	// Temporal
	Fmax                  *float64 `json:"fmax,omitempty"`
	DFreq                 *float64 `json:"dfreq,omitempty"`
	KM                    *int     `json:"k_m,omitempty"`
	KN                    *int     `json:"k_n,omitempty"`
	GridDir               *string  `json:"grid_dir,omitempty"`
	SubDir                *string  `json:"sub_dir,omitempty"`
	LPNc                  *int     `json:"lp_nc,omitempty"`
	UncontrolledLifetimes *bool    `json:"uncontrolled_lifetimes,omitempty"`
	LifetimeTrials        *int     `json:"lifetime_trials,omitempty"`
	WritePSDs             *bool    `json:"write_psds,omitempty"`
	Workers               *int     `json:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySystemConfig returns a SystemConfig with all fields unset.
func EmptySystemConfig() *SystemConfig {
	return &SystemConfig{}
}

// LoadSystemConfig loads a SystemConfig from a JSON file. Keys the schema
// does not know are reported through monitoring.Logf and otherwise ignored.
func LoadSystemConfig(path string) (*SystemConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseSystemConfig(data)
}

// ParseSystemConfig decodes and validates JSON configuration data.
func ParseSystemConfig(data []byte) (*SystemConfig, error) {
	cfg := EmptySystemConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	unknown, err := UnknownKeys(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	for _, k := range unknown {
		monitoring.Logf("warning: unrecognized config option %q", k)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// UnknownKeys returns the sorted top-level keys of data that do not map to
// a SystemConfig field.
func UnknownKeys(data []byte) ([]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	known := knownKeys()
	var out []string
	for k := range raw {
		if !known[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func knownKeys() map[string]bool {
	t := reflect.TypeOf(SystemConfig{})
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		keys[name] = true
	}
	return keys
}

// Validate checks values that can be rejected without resolving the
// system. Name lookups (model, wfs, component) are checked by Resolve.
func (c *SystemConfig) Validate() error {
	if c.WFEUnits != nil && !units.IsValid(*c.WFEUnits) {
		return fmt.Errorf("%w: %q (want %s)", ErrUnknownUnits, *c.WFEUnits, units.GetValidUnitsString())
	}
	if c.MNMap != nil && *c.MNMap <= 0 {
		return fmt.Errorf("mn_map must be positive, got %d", *c.MNMap)
	}
	if c.LPNc != nil && *c.LPNc < 0 {
		return fmt.Errorf("lp_nc must be non-negative, got %d", *c.LPNc)
	}
	if c.LifetimeTrials != nil && *c.LifetimeTrials < 0 {
		return fmt.Errorf("lifetime_trials must be non-negative, got %d", *c.LifetimeTrials)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetMode returns the mode value or the default.
func (c *SystemConfig) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return "C2Raw"
	}
	return *c.Mode
}

// GetSetupOutFile returns the setup_out_file value or the default.
func (c *SystemConfig) GetSetupOutFile() string {
	if c.SetupOutFile == nil {
		return DefaultSetupOutFile
	}
	return *c.SetupOutFile
}

// GetWFEUnits returns the wfe_units value or the default.
func (c *SystemConfig) GetWFEUnits() string {
	if c.WFEUnits == nil {
		return units.Rad
	}
	return *c.WFEUnits
}

// GetMNMap returns the mn_map value or the default.
func (c *SystemConfig) GetMNMap() int {
	if c.MNMap == nil {
		return 50
	}
	return *c.MNMap
}

// GetModel returns the model value or the default.
func (c *SystemConfig) GetModel() string {
	if c.Model == nil || *c.Model == "" {
		return DefaultModel
	}
	return *c.Model
}

// GetDFreq returns the dfreq value or the default.
func (c *SystemConfig) GetDFreq() float64 {
	if c.DFreq == nil {
		return 0.1
	}
	return *c.DFreq
}

// GetFmax returns the fmax value or the default (0, chosen per mode).
func (c *SystemConfig) GetFmax() float64 {
	if c.Fmax == nil {
		return 0
	}
	return *c.Fmax
}

// GetKM returns the k_m value or the default.
func (c *SystemConfig) GetKM() int {
	if c.KM == nil {
		return 1
	}
	return *c.KM
}

// GetKN returns the k_n value or the default.
func (c *SystemConfig) GetKN() int {
	if c.KN == nil {
		return 0
	}
	return *c.KN
}

// GetLPNc returns the lp_nc value or the default.
func (c *SystemConfig) GetLPNc() int {
	if c.LPNc == nil {
		return 0
	}
	return *c.LPNc
}

// GetWorkers returns the workers value or the default.
func (c *SystemConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return 1
	}
	return *c.Workers
}

func getString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func getBool(p *bool) bool {
	return p != nil && *p
}

func getInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// Temporal holds the temporal-PSD and grid options.
type Temporal struct {
	Df                    float64
	Fmax                  float64
	KM, KN                int
	GridDir               string
	SubDir                string
	LPNc                  int
	LifetimeTrials        int
	UncontrolledLifetimes bool
	WritePSDs             bool
	Workers               int
}

// App holds the options of the command-line application.
type App struct {
	Mode         string
	WFEUnits     string
	MNMap        int
	StarMags     []float64
	SetupOutFile string
}

// Resolved is a fully resolved run configuration.
type Resolved struct {
	System   aosys.Config
	Temporal Temporal
	App      App
}

// Resolve loads the model preset and applies the configured overrides on
// top of it. Atmosphere overrides follow a fixed order: lam_0 calibrates
// layer_cn2 and r_0, r_0 wins over layer_cn2, and v_wind and z_mean
// rescale the layer vectors last.
func (c *SystemConfig) Resolve() (*Resolved, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	sys, err := Preset(c.GetModel())
	if err != nil {
		return nil, err
	}
	if err := c.applyAtmosphere(sys.Atm); err != nil {
		return nil, err
	}
	if err := c.applyPSD(&sys.PSD); err != nil {
		return nil, err
	}
	if err := c.applySystem(&sys); err != nil {
		return nil, err
	}

	r := &Resolved{
		System: sys,
		Temporal: Temporal{
			Df:                    c.GetDFreq(),
			Fmax:                  c.GetFmax(),
			KM:                    c.GetKM(),
			KN:                    c.GetKN(),
			GridDir:               getString(c.GridDir),
			SubDir:                getString(c.SubDir),
			LPNc:                  c.GetLPNc(),
			LifetimeTrials:        getInt(c.LifetimeTrials),
			UncontrolledLifetimes: getBool(c.UncontrolledLifetimes),
			WritePSDs:             getBool(c.WritePSDs),
			Workers:               c.GetWorkers(),
		},
		App: App{
			Mode:         c.GetMode(),
			WFEUnits:     c.GetWFEUnits(),
			MNMap:        c.GetMNMap(),
			StarMags:     append([]float64(nil), c.StarMags...),
			SetupOutFile: c.GetSetupOutFile(),
		},
	}
	return r, nil
}

func (c *SystemConfig) applyAtmosphere(atm *atmosphere.Profile) error {
	var lam0 float64
	if c.Lam0 != nil {
		lam0 = *c.Lam0
	}

	// A complete set of layer vectors may change the number of layers.
	if c.LayerCn2 != nil && c.LayerZ != nil && c.LayerVWind != nil && c.LayerDir != nil &&
		len(c.LayerCn2) != atm.NumLayers() {
		fresh, err := atmosphere.NewProfile(atm.R0(), atm.L0(), atm.Lam0(), c.LayerCn2, c.LayerZ, c.LayerVWind, c.LayerDir)
		if err != nil {
			return err
		}
		*atm = *fresh
	}

	if c.LayerCn2 != nil {
		if err := atm.SetLayerCn2(c.LayerCn2, lam0); err != nil {
			return err
		}
	}
	if c.R0 != nil {
		atm.SetR0(*c.R0, lam0)
	}
	if c.L0 != nil {
		atm.SetL0(*c.L0)
	}
	if c.LayerVWind != nil {
		if err := atm.SetLayerV(c.LayerVWind); err != nil {
			return err
		}
	}
	if c.LayerDir != nil {
		if err := atm.SetLayerDir(c.LayerDir); err != nil {
			return err
		}
	}
	if c.LayerZ != nil {
		if err := atm.SetLayerZ(c.LayerZ); err != nil {
			return err
		}
	}
	if c.VWind != nil {
		if err := atm.SetVWind(*c.VWind); err != nil {
			return err
		}
	}
	if c.ZMean != nil {
		if err := atm.SetZMean(*c.ZMean); err != nil {
			return err
		}
	}
	return nil
}

func (c *SystemConfig) applyPSD(s *psd.Settings) error {
	if c.SubTipTilt != nil {
		s.SubTipTilt = *c.SubTipTilt
	}
	if c.Scintillation != nil {
		s.Scintillation = *c.Scintillation
	}
	if c.Component != nil {
		comp, err := psd.ParseComponent(*c.Component)
		if err != nil {
			return err
		}
		s.Component = comp
	}
	return nil
}

func (c *SystemConfig) applySystem(s *aosys.Config) error {
	if c.WFS != nil {
		w, err := wfs.Parse(*c.WFS)
		if err != nil {
			return err
		}
		s.WFS = w
	}
	if c.ModRadius != nil {
		s.WFS.ModRadius = *c.ModRadius
	}

	floatsToSet := []struct {
		src *float64
		dst *float64
	}{
		{c.D, &s.D},
		{c.DMin, &s.DMin},
		{c.OptDDelta, &s.OptDDelta},
		{c.F0, &s.F0},
		{c.LamWFS, &s.LamWFS},
		{c.NpixWFS, &s.NpixWFS},
		{c.RonWFS, &s.RonWFS},
		{c.Fbg, &s.Fbg},
		{c.MinTauWFS, &s.MinTauWFS},
		{c.TauWFS, &s.TauWFS},
		{c.DeltaTau, &s.DeltaTau},
		{c.LamSci, &s.LamSci},
		{c.Zeta, &s.Zeta},
		{c.NcpWFE, &s.NcpWFE},
		{c.NcpAlpha, &s.NcpAlpha},
		{c.StarMag, &s.StarMag},
	}
	for _, f := range floatsToSet {
		if f.src != nil {
			*f.dst = *f.src
		}
	}

	boolsToSet := []struct {
		src *bool
		dst *bool
	}{
		{c.OptD, &s.OptD},
		{c.BinNpix, &s.BinNpix},
		{c.OptTau, &s.OptTau},
		{c.CircularLimit, &s.CircularLimit},
	}
	for _, b := range boolsToSet {
		if b.src != nil {
			*b.dst = *b.src
		}
	}

	if c.FitMNMax != nil {
		s.FitMNMax = *c.FitMNMax
	}
	return nil
}

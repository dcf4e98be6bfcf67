// Package gridstore persists temporal PSD grids in a SQLite database.
//
// A grid holds one open-loop PSD per half-plane Fourier mode plus the grid
// metadata needed to rebuild the frequency axis. Analyses run over a grid
// are recorded with a UUID so repeated runs over the same grid can be told
// apart.
package gridstore

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/aosystem/internal/timeutil"
)

// ErrModeNotFound is returned by ReadMode for modes absent from the grid.
var ErrModeNotFound = errors.New("gridstore: mode not found")

// ErrNoMeta is returned by ReadMeta before WriteMeta has been called.
var ErrNoMeta = errors.New("gridstore: grid metadata not written")

// Meta describes the grid.
type Meta struct {
	Fs       float64 // loop frequency [Hz]
	Df       float64 // frequency resolution [Hz]
	Fmax     float64 // explicit cutoff, 0 when chosen per mode
	D        float64 // telescope diameter [m]
	FitMNMax int
}

// Mode is the stored open-loop PSD of one Fourier mode.
type Mode struct {
	M, N int
	Freq []float64
	PSD  []float64
}

// Analysis records one temporalPSDGridAnalyze run.
type Analysis struct {
	AnalysisID string
	SubDir     string
	MNCon      int
	LPNc       int
	StarMags   []float64
	Totals     []float64
	Strehls    []float64
	CreatedAt  int64
}

// Store is a grid database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (creating if needed) the grid database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open grid store %s: %w", path, err)
	}
	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock used to stamp metadata and analyses.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = timeutil.OrReal(c) }

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// WriteMeta stores the grid metadata, replacing any previous value.
func (s *Store) WriteMeta(m Meta) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO grid_meta (id, fs, df, fmax, d, fit_mn_max, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		m.Fs, m.Df, m.Fmax, m.D, m.FitMNMax, s.clock.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("write grid meta: %w", err)
	}
	return nil
}

// WriteGrid replaces the whole grid in one transaction: previously stored
// modes are removed, so a store re-gridded at a smaller cutoff holds only
// the modes of the new run.
func (s *Store) WriteGrid(meta Meta, modes []Mode) error {
	for _, m := range modes {
		if len(m.Freq) != len(m.PSD) {
			return fmt.Errorf("write mode (%d,%d): %d frequencies for %d PSD values", m.M, m.N, len(m.Freq), len(m.PSD))
		}
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin grid write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM grid_modes`); err != nil {
		return fmt.Errorf("clear grid modes: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO grid_meta (id, fs, df, fmax, d, fit_mn_max, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		meta.Fs, meta.Df, meta.Fmax, meta.D, meta.FitMNMax, s.clock.Now().UnixNano()); err != nil {
		return fmt.Errorf("write grid meta: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO grid_modes (m, n, freq, psd) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare mode insert: %w", err)
	}
	defer stmt.Close()
	for _, m := range modes {
		if _, err := stmt.Exec(m.M, m.N, encodeFloats(m.Freq), encodeFloats(m.PSD)); err != nil {
			return fmt.Errorf("write mode (%d,%d): %w", m.M, m.N, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grid write: %w", err)
	}
	return nil
}

// ReadMeta returns the grid metadata.
func (s *Store) ReadMeta() (Meta, error) {
	var m Meta
	err := s.db.QueryRow(`SELECT fs, df, fmax, d, fit_mn_max FROM grid_meta WHERE id = 1`).
		Scan(&m.Fs, &m.Df, &m.Fmax, &m.D, &m.FitMNMax)
	if errors.Is(err, sql.ErrNoRows) {
		return Meta{}, ErrNoMeta
	}
	if err != nil {
		return Meta{}, fmt.Errorf("read grid meta: %w", err)
	}
	return m, nil
}

// WriteMode stores the PSD of one mode, replacing any previous value.
func (s *Store) WriteMode(m Mode) error {
	if len(m.Freq) != len(m.PSD) {
		return fmt.Errorf("write mode (%d,%d): %d frequencies for %d PSD values", m.M, m.N, len(m.Freq), len(m.PSD))
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO grid_modes (m, n, freq, psd) VALUES (?, ?, ?, ?)`,
		m.M, m.N, encodeFloats(m.Freq), encodeFloats(m.PSD))
	if err != nil {
		return fmt.Errorf("write mode (%d,%d): %w", m.M, m.N, err)
	}
	return nil
}

// ReadMode loads the PSD of mode (m, n).
func (s *Store) ReadMode(m, n int) (Mode, error) {
	var freq, p []byte
	err := s.db.QueryRow(`SELECT freq, psd FROM grid_modes WHERE m = ? AND n = ?`, m, n).Scan(&freq, &p)
	if errors.Is(err, sql.ErrNoRows) {
		return Mode{}, fmt.Errorf("(%d,%d): %w", m, n, ErrModeNotFound)
	}
	if err != nil {
		return Mode{}, fmt.Errorf("read mode (%d,%d): %w", m, n, err)
	}
	out := Mode{M: m, N: n}
	if out.Freq, err = decodeFloats(freq); err != nil {
		return Mode{}, fmt.Errorf("read mode (%d,%d) freq: %w", m, n, err)
	}
	if out.PSD, err = decodeFloats(p); err != nil {
		return Mode{}, fmt.Errorf("read mode (%d,%d) psd: %w", m, n, err)
	}
	return out, nil
}

// ListModes returns the stored mode indices ordered by m then n.
func (s *Store) ListModes() ([][2]int, error) {
	rows, err := s.db.Query(`SELECT m, n FROM grid_modes ORDER BY m, n`)
	if err != nil {
		return nil, fmt.Errorf("query modes: %w", err)
	}
	defer rows.Close()

	var out [][2]int
	for rows.Next() {
		var mn [2]int
		if err := rows.Scan(&mn[0], &mn[1]); err != nil {
			return nil, fmt.Errorf("scan mode: %w", err)
		}
		out = append(out, mn)
	}
	return out, rows.Err()
}

// RecordAnalysis persists an analysis run. If AnalysisID is empty, a UUID
// is generated.
func (s *Store) RecordAnalysis(a *Analysis) error {
	if a.AnalysisID == "" {
		a.AnalysisID = uuid.New().String()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = s.clock.Now().UnixNano()
	}
	mags, err := json.Marshal(a.StarMags)
	if err != nil {
		return fmt.Errorf("marshal star mags: %w", err)
	}
	totals, err := json.Marshal(a.Totals)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}
	strehls, err := json.Marshal(a.Strehls)
	if err != nil {
		return fmt.Errorf("marshal strehls: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO grid_analyses (
			analysis_id, sub_dir, mn_con, lp_nc, star_mags, totals, strehls, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AnalysisID, a.SubDir, a.MNCon, a.LPNc, string(mags), string(totals), string(strehls), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// Analyses returns every recorded analysis, newest first.
func (s *Store) Analyses() ([]*Analysis, error) {
	rows, err := s.db.Query(`
		SELECT analysis_id, sub_dir, mn_con, lp_nc, star_mags, totals, strehls, created_at
		FROM grid_analyses
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var out []*Analysis
	for rows.Next() {
		var a Analysis
		var mags, totals, strehls string
		if err := rows.Scan(&a.AnalysisID, &a.SubDir, &a.MNCon, &a.LPNc, &mags, &totals, &strehls, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		for _, f := range []struct {
			src string
			dst *[]float64
		}{{mags, &a.StarMags}, {totals, &a.Totals}, {strehls, &a.Strehls}} {
			if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
				return nil, fmt.Errorf("analysis %s: %w", a.AnalysisID, err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// encodeFloats packs values as little-endian IEEE-754 doubles.
func encodeFloats(v []float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

func decodeFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}

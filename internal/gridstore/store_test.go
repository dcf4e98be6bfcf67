package gridstore

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/aosystem/internal/timeutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "grid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestModeRoundTripIsBitExact(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	in := Mode{
		M: 3, N: -2,
		Freq: []float64{0.1, 0.2, 0.30000000000000004},
		PSD:  []float64{1.0 / 3, math.SmallestNonzeroFloat64, math.MaxFloat64, 0, math.Inf(1)},
	}
	in.Freq = append(in.Freq, 0.4, 0.5)
	require.NoError(t, s.WriteMode(in))

	out, err := s.ReadMode(3, -2)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("mode round trip mismatch (-want +got):\n%s", diff)
	}

	// Overwrite replaces.
	in.PSD[0] = 2
	require.NoError(t, s.WriteMode(in))
	out, err = s.ReadMode(3, -2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.PSD[0])
}

func TestWriteModeLengthMismatch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	err := s.WriteMode(Mode{M: 1, Freq: []float64{1, 2}, PSD: []float64{1}})
	assert.Error(t, err)
}

func TestReadModeNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	_, err := s.ReadMode(9, 9)
	assert.True(t, errors.Is(err, ErrModeNotFound))
}

func TestListModesOrdered(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	for _, mn := range [][2]int{{2, 0}, {0, 1}, {1, -1}, {1, 1}} {
		require.NoError(t, s.WriteMode(Mode{M: mn[0], N: mn[1], Freq: []float64{1}, PSD: []float64{1}}))
	}
	modes, err := s.ListModes()
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}, {1, -1}, {1, 1}, {2, 0}}, modes)
}

func TestWriteGridReplacesModes(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	mode := func(m, n int) Mode { return Mode{M: m, N: n, Freq: []float64{1}, PSD: []float64{2}} }
	require.NoError(t, s.WriteGrid(Meta{Fs: 10, Df: 1, D: 2, FitMNMax: 2},
		[]Mode{mode(0, 1), mode(1, 0), mode(2, 2)}))
	require.NoError(t, s.WriteGrid(Meta{Fs: 10, Df: 1, D: 2, FitMNMax: 1},
		[]Mode{mode(0, 1), mode(1, 0)}))

	modes, err := s.ListModes()
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}, {1, 0}}, modes)
	_, err = s.ReadMode(2, 2)
	assert.ErrorIs(t, err, ErrModeNotFound)

	meta, err := s.ReadMeta()
	require.NoError(t, err)
	assert.Equal(t, 1, meta.FitMNMax)
}

func TestWriteGridRollsBackOnBadMode(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	good := Mode{M: 0, N: 1, Freq: []float64{1}, PSD: []float64{2}}
	require.NoError(t, s.WriteGrid(Meta{Fs: 10, Df: 1, FitMNMax: 1}, []Mode{good}))

	bad := Mode{M: 1, N: 0, Freq: []float64{1, 2}, PSD: []float64{2}}
	require.Error(t, s.WriteGrid(Meta{Fs: 20, Df: 1, FitMNMax: 1}, []Mode{bad}))

	modes, err := s.ListModes()
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}}, modes)
	meta, err := s.ReadMeta()
	require.NoError(t, err)
	assert.Equal(t, 10.0, meta.Fs)
}

func TestMeta(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.ReadMeta()
	assert.True(t, errors.Is(err, ErrNoMeta))

	want := Meta{Fs: 3622, Df: 0.1, Fmax: 0, D: 6.5, FitMNMax: 24}
	require.NoError(t, s.WriteMeta(want))
	got, err := s.ReadMeta()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRecordAnalysis(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	first := &Analysis{SubDir: "si", MNCon: 16, LPNc: 1, StarMags: []float64{8, 10},
		Totals: []float64{0.1, 0.3}, Strehls: []float64{0.9, 0.74}, CreatedAt: 1}
	second := &Analysis{SubDir: "lp", MNCon: 16, LPNc: 4, StarMags: []float64{8},
		Totals: []float64{0.08}, Strehls: []float64{0.92}, CreatedAt: 2}
	require.NoError(t, s.RecordAnalysis(first))
	require.NoError(t, s.RecordAnalysis(second))
	assert.NotEmpty(t, first.AnalysisID)
	assert.NotEqual(t, first.AnalysisID, second.AnalysisID)

	got, err := s.Analyses()
	require.NoError(t, err)
	require.Len(t, got, 2)
	if diff := cmp.Diff([]*Analysis{second, first}, got); diff != "" {
		t.Errorf("analyses mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordAnalysisStampsFromClock(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	clock.Step = time.Second
	s.SetClock(clock)

	a := &Analysis{SubDir: "a", StarMags: []float64{5}, Totals: []float64{0.1}, Strehls: []float64{0.9}}
	b := &Analysis{SubDir: "b", StarMags: []float64{6}, Totals: []float64{0.2}, Strehls: []float64{0.8}}
	require.NoError(t, s.RecordAnalysis(a))
	require.NoError(t, s.RecordAnalysis(b))
	assert.Equal(t, start.UnixNano(), a.CreatedAt)
	assert.Equal(t, start.Add(time.Second).UnixNano(), b.CreatedAt)

	got, err := s.Analyses()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SubDir, "newest first")
}

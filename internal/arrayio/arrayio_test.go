package arrayio

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/aosystem/internal/fsutil"
)

func TestWriteReadExact(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	in := [][]float64{
		{0, 1.0 / 3, -2.5e-17},
		{math.MaxFloat64, math.SmallestNonzeroFloat64, 0.1 + 0.2},
	}
	require.NoError(t, Write(fs, "grid/map.csv", in))

	out, err := Read(fs, "grid/map.csv")
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteOnDisk(t *testing.T) {
	fs := fsutil.OSFileSystem{}
	path := filepath.Join(t.TempDir(), "a.csv")
	in := [][]float64{{1, 2}, {3, 4}}
	require.NoError(t, Write(fs, path, in))
	out, err := Read(fs, path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteRagged(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	err := Write(fs, "bad.csv", [][]float64{{1, 2}, {3}})
	assert.True(t, errors.Is(err, ErrRagged))
	assert.False(t, fs.Exists("bad.csv"))
}

func TestWriteSeries(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	freq := []float64{0.1, 0.2}
	psd := []float64{3.5, 1e-9}
	require.NoError(t, WriteSeries(fs, "psd.csv", []string{"freq", "psd"}, freq, psd))

	data, err := fs.ReadFile("psd.csv")
	require.NoError(t, err)
	assert.Equal(t, "# freq,psd\n0.1,3.5\n0.2,1e-09\n", string(data))

	out, err := Read(fs, "psd.csv")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1, 3.5}, {0.2, 1e-9}}, out)

	err = WriteSeries(fs, "bad.csv", []string{"a", "b"}, []float64{1}, []float64{1, 2})
	assert.True(t, errors.Is(err, ErrRagged))
}

func TestReadErrors(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	_, err := Read(fs, "missing.csv")
	assert.Error(t, err)

	require.NoError(t, fs.WriteFile("bad.csv", []byte("1,x\n"), 0644))
	_, err = Read(fs, "bad.csv")
	assert.Error(t, err)
}

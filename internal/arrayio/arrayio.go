// Package arrayio persists numeric arrays as CSV through an fsutil.FileSystem.
//
// Values are formatted with the shortest representation that parses back
// to the same float64, so a write/read round trip is exact.
package arrayio

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"

	"github.com/banshee-data/aosystem/internal/fsutil"
)

// ErrRagged is returned when rows of a 2-D array differ in length.
var ErrRagged = errors.New("arrayio: ragged array")

func format(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// Write stores a 2-D array, one row per line.
func Write(fs fsutil.FileSystem, path string, a [][]float64) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, row := range a {
		if len(row) != len(a[0]) {
			return fmt.Errorf("%s row %d: %w", path, i, ErrRagged)
		}
		rec := make([]string, len(row))
		for j, v := range row {
			rec[j] = format(v)
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return fs.WriteFile(path, buf.Bytes(), 0644)
}

// Read loads a 2-D array written by Write or WriteSeries. Lines starting
// with '#' are ignored.
func Read(fs fsutil.FileSystem, path string) ([][]float64, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comment = '#'
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([][]float64, len(recs))
	for i, rec := range recs {
		out[i] = make([]float64, len(rec))
		for j, s := range rec {
			if out[i][j], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
			}
		}
	}
	return out, nil
}

// WriteSeries stores equal-length columns with a '#' header line naming them.
func WriteSeries(fs fsutil.FileSystem, path string, names []string, cols ...[]float64) error {
	if len(names) != len(cols) {
		return fmt.Errorf("%s: %d names for %d columns", path, len(names), len(cols))
	}
	var buf bytes.Buffer
	buf.WriteString("# ")
	for i, n := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(n)
	}
	buf.WriteByte('\n')

	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0])
	}
	w := csv.NewWriter(&buf)
	for i := 0; i < rows; i++ {
		rec := make([]string, len(cols))
		for j, c := range cols {
			if len(c) != rows {
				return fmt.Errorf("%s column %s: %w", path, names[j], ErrRagged)
			}
			rec[j] = format(c[i])
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return fs.WriteFile(path, buf.Bytes(), 0644)
}

package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainedPath(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	tests := []struct {
		name    string
		rel     string
		want    string
		escapes bool
	}{
		{"plain", "analysis", filepath.Join(root, "analysis"), false},
		{"nested", "a/b", filepath.Join(root, "a", "b"), false},
		{"dot dot inside", "a/../b", filepath.Join(root, "b"), false},
		{"root itself", ".", root, false},
		{"parent", "..", "", true},
		{"climb out", "../other", "", true},
		{"absolute", "/tmp/x", "", true},
		{"symlink out", "link/sub", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ContainedPath(root, tt.rel)
			if tt.escapes {
				assert.True(t, errors.Is(err, ErrPathEscape), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainedPathMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not", "yet")
	got, err := ContainedPath(root, "sub")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub"), got)
}

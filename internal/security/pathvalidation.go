// Package security guards output paths built from configuration values.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a relative path resolves outside its root.
var ErrPathEscape = errors.New("security: path escapes root directory")

// ContainedPath joins rel onto root and returns the result, rejecting
// absolute rel values and any rel that resolves outside root. Existing
// symlinks along the joined path are resolved before the check, so a link
// inside root that points elsewhere is rejected too.
func ContainedPath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathEscape, rel)
	}
	joined := filepath.Join(root, rel)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", root, err)
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", joined, err)
	}
	if !within(absRoot, absJoined) {
		return "", fmt.Errorf("%w: %q under %s", ErrPathEscape, rel, root)
	}

	canonRoot := canonical(absRoot)
	if !within(canonRoot, canonical(absJoined)) {
		return "", fmt.Errorf("%w: %q under %s follows a symlink out", ErrPathEscape, rel, root)
	}
	return joined, nil
}

// canonical resolves symlinks in the longest existing prefix of p and
// reattaches the remainder.
func canonical(p string) string {
	rest := ""
	for cur := p; ; {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

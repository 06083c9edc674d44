package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a candidate path resolves outside its
// confinement root, whether via "..", an absolute escape, or a symlink.
var ErrPathTraversal = errors.New("path escapes workspace confinement")

// PathValidator confines file-tool paths to a workspace root, resolving
// symlinks before comparison so a symlinked escape can't slip past a naive
// prefix check. Mirrors the confinement idiom ProcessSandbox already applies
// to binaries, generalized from an allow-list of names to a directory tree.
type PathValidator struct {
	root string // absolute, symlink-resolved
}

// NewPathValidator resolves root (which must exist) and returns a validator
// confining all further checks to it.
func NewPathValidator(root string) (*PathValidator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root symlinks: %w", err)
	}
	return &PathValidator{root: resolved}, nil
}

// Validate resolves candidate (absolute or relative to root) and confirms it
// falls within root. It tolerates a candidate that does not yet exist (for
// write/create tools) by walking up to the nearest existing ancestor to
// resolve symlinks on, then re-appending the missing suffix.
func (v *PathValidator) Validate(candidate string) (string, error) {
	path := candidate
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.root, path)
	}
	path = filepath.Clean(path)

	resolved, missing, err := resolveExistingPrefix(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	full := resolved
	if missing != "" {
		full = filepath.Join(resolved, missing)
	}

	if full != v.root && !strings.HasPrefix(full, v.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, candidate)
	}
	return full, nil
}

// resolveExistingPrefix walks up from path until it finds an existing
// ancestor, resolves that ancestor's symlinks, and returns it along with the
// not-yet-existing suffix (empty if path itself exists).
func resolveExistingPrefix(path string) (resolved string, missingSuffix string, err error) {
	current := path
	var suffix []string
	for {
		if _, statErr := os.Lstat(current); statErr == nil {
			real, evalErr := filepath.EvalSymlinks(current)
			if evalErr != nil {
				return "", "", evalErr
			}
			reverse(suffix)
			return real, filepath.Join(suffix...), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", "", fmt.Errorf("no existing ancestor for %s", path)
		}
		suffix = append(suffix, filepath.Base(current))
		current = parent
	}
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

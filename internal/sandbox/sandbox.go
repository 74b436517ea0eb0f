// Package sandbox confines filesystem paths to a root directory.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

// Resolve canonicalizes path and checks that it is the root or lies under it.
// An empty path selects the root; a relative path is taken relative to the root.
// Violations return an error wrapping domain.ErrInvalidWorkspace.
func Resolve(root, path string) (string, error) {
	return Join(root, root, path)
}

// Join resolves path relative to base and checks the result against root.
func Join(root, base, path string) (string, error) {
	canonRoot, err := canonical(root)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox root: %w", err)
	}
	if path == "" {
		path = base
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	resolved, err := canonical(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidWorkspace, err)
	}
	if !Within(canonRoot, resolved) {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidWorkspace, path)
	}
	return resolved, nil
}

// Within reports whether path equals root or sits below root. Both must be clean absolute paths.
func Within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// canonical returns the absolute, cleaned path with symlinks evaluated for
// the longest prefix that exists on disk.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	existing := abs
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, rest...)...), nil
}
